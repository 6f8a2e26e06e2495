package metrics

import "math"

// Welford holds running statistics using Welford's online algorithm, so a
// poller can track mean and spread of a series without keeping the samples.
type Welford struct {
	Count int
	Mean  float64
	M2    float64 // sum of squared differences from the mean
	Min   float64
	Max   float64
}

// Add records one observation.
func (w *Welford) Add(x float64) {
	w.Count++
	if w.Count == 1 || x < w.Min {
		w.Min = x
	}
	if w.Count == 1 || x > w.Max {
		w.Max = x
	}
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (x - w.Mean)
}

// StdDev returns the population standard deviation, 0 below two observations.
func (w Welford) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}
