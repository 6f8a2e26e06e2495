package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/muni-locations/poller/internal/transit"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fetchResult struct {
	batch transit.Batch
	err   error
}

// scriptedFeed replays results per route, repeating the last one when exhausted.
type scriptedFeed struct {
	mu      sync.Mutex
	results map[string][]fetchResult
	calls   map[string][]int64
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{
		results: make(map[string][]fetchResult),
		calls:   make(map[string][]int64),
	}
}

func (f *scriptedFeed) add(route string, batch transit.Batch, err error) *scriptedFeed {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[route] = append(f.results[route], fetchResult{batch: batch, err: err})
	return f
}

func (f *scriptedFeed) FetchVehicleLocations(ctx context.Context, routeTag string, sinceMs int64) (transit.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.calls[routeTag])
	f.calls[routeTag] = append(f.calls[routeTag], sinceMs)

	results := f.results[routeTag]
	if len(results) == 0 {
		return transit.Batch{}, errors.New("no scripted result")
	}
	if n >= len(results) {
		n = len(results) - 1
	}
	return results[n].batch, results[n].err
}

func (f *scriptedFeed) sinces(route string) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls[route]...)
}

type memStore struct {
	mu      sync.Mutex
	err     error
	batches [][]transit.VehicleLocation
}

func (s *memStore) InsertVehicleLocations(ctx context.Context, locs []transit.VehicleLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]transit.VehicleLocation(nil), locs...))
	return nil
}

func (s *memStore) rows() []transit.VehicleLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transit.VehicleLocation
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// recordingReporter keeps every event for assertions.
type recordingReporter struct {
	mu            sync.Mutex
	transitions   []State
	fetched       map[string]int
	fetchFailures map[string][]error
	storeFailures map[string][]error
	stored        map[string]int
	waits         []time.Duration
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{
		fetched:       make(map[string]int),
		fetchFailures: make(map[string][]error),
		storeFailures: make(map[string][]error),
		stored:        make(map[string]int),
	}
}

func (r *recordingReporter) StateChanged(route string, from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, to)
}

func (r *recordingReporter) Fetched(route string, batch transit.Batch, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetched[route]++
}

func (r *recordingReporter) FetchFailed(route string, watermark int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchFailures[route] = append(r.fetchFailures[route], err)
}

func (r *recordingReporter) Stored(route string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[route] += n
}

func (r *recordingReporter) StoreFailed(route string, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeFailures[route] = append(r.storeFailures[route], err)
}

func (r *recordingReporter) Waiting(route string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
}

// countingSleeper returns immediately for the first n waits, then signals done
// and blocks until the context is cancelled.
type countingSleeper struct {
	mu    sync.Mutex
	n     int
	waits []time.Duration
	done  chan struct{}
}

func newCountingSleeper(n int) *countingSleeper {
	return &countingSleeper{n: n, done: make(chan struct{})}
}

func (s *countingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	count := len(s.waits)
	s.mu.Unlock()

	if count <= s.n {
		return nil
	}
	if count == s.n+1 {
		close(s.done)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
