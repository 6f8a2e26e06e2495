// Package metrics keeps in-memory per-route polling statistics.
package metrics

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// RouteStats summarises one route's polling since the collector was created.
type RouteStats struct {
	Route         string
	Fetches       int
	FetchFailures int
	StoreFailures int
	Stored        int
	LastWatermark int64
	LastSuccess   time.Time
	BatchSize     Welford
	FetchLatency  Welford // seconds
}

// Collector accumulates RouteStats. It is safe for concurrent use by many pollers;
// every route only ever touches its own entry.
type Collector struct {
	mu     sync.Mutex
	routes map[string]*RouteStats
	now    func() time.Time
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		routes: make(map[string]*RouteStats),
		now:    time.Now,
	}
}

func (c *Collector) route(tag string) *RouteStats {
	s, ok := c.routes[tag]
	if !ok {
		s = &RouteStats{Route: tag}
		c.routes[tag] = s
	}
	return s
}

// RecordFetch records a successful fetch.
func (c *Collector) RecordFetch(route string, vehicles int, watermark int64, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.route(route)
	s.Fetches++
	s.LastWatermark = watermark
	s.LastSuccess = c.now()
	s.BatchSize.Add(float64(vehicles))
	s.FetchLatency.Add(latency.Seconds())
}

// RecordFetchFailure records a failed fetch.
func (c *Collector) RecordFetchFailure(route string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.route(route).FetchFailures++
}

// RecordStored records a committed batch of n rows.
func (c *Collector) RecordStored(route string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.route(route).Stored += n
}

// RecordStoreFailure records a rolled back batch.
func (c *Collector) RecordStoreFailure(route string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.route(route).StoreFailures++
}

// Snapshot returns a copy of every route's stats, sorted by route tag.
func (c *Collector) Snapshot() []RouteStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RouteStats, 0, len(c.routes))
	for _, s := range c.routes {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b RouteStats) int {
		if a.Route < b.Route {
			return -1
		}
		if a.Route > b.Route {
			return 1
		}
		return 0
	})
	return out
}

// LogSummary writes one line per route.
func (c *Collector) LogSummary(logger *slog.Logger) {
	for _, s := range c.Snapshot() {
		logger.Info("route stats",
			"route", s.Route,
			"fetches", s.Fetches,
			"fetch_failures", s.FetchFailures,
			"store_failures", s.StoreFailures,
			"stored", s.Stored,
			"batch_mean", s.BatchSize.Mean,
			"batch_stddev", s.BatchSize.StdDev(),
			"latency_mean_s", s.FetchLatency.Mean,
			"latency_max_s", s.FetchLatency.Max,
			"watermark", s.LastWatermark,
		)
	}
}
