package poller

import (
	"log/slog"
	"time"

	"github.com/muni-locations/poller/internal/metrics"
	"github.com/muni-locations/poller/internal/transit"
)

// Reporter observes a RoutePoller. Calls come from the poller's own goroutine;
// implementations shared between routes must be safe for concurrent use.
type Reporter interface {
	StateChanged(route string, from, to State)
	Fetched(route string, batch transit.Batch, latency time.Duration)
	FetchFailed(route string, watermark int64, err error)
	Stored(route string, n int)
	StoreFailed(route string, n int, err error)
	Waiting(route string, d time.Duration)
}

// NopReporter ignores everything.
type NopReporter struct{}

func (NopReporter) StateChanged(string, State, State)            {}
func (NopReporter) Fetched(string, transit.Batch, time.Duration) {}
func (NopReporter) FetchFailed(string, int64, error)             {}
func (NopReporter) Stored(string, int)                           {}
func (NopReporter) StoreFailed(string, int, error)               {}
func (NopReporter) Waiting(string, time.Duration)                {}

// LogReporter writes poller events to a slog.Logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) StateChanged(route string, from, to State) {
	r.Logger.Debug("state changed", "route", route, "from", from, "to", to)
}

func (r LogReporter) Fetched(route string, batch transit.Batch, latency time.Duration) {
	r.Logger.Info("got vehicles",
		"route", route,
		"count", len(batch.Locations),
		"ids", batch.IDs(),
		"watermark", batch.LastTime,
		"latency", latency,
	)
}

func (r LogReporter) FetchFailed(route string, watermark int64, err error) {
	r.Logger.Warn("fetch failed", "route", route, "watermark", watermark, "err", err)
}

func (r LogReporter) Stored(route string, n int) {
	r.Logger.Debug("stored batch", "route", route, "count", n)
}

func (r LogReporter) StoreFailed(route string, n int, err error) {
	r.Logger.Error("store failed, batch dropped", "route", route, "count", n, "err", err)
}

func (r LogReporter) Waiting(route string, d time.Duration) {
	r.Logger.Debug("sleeping", "route", route, "duration", d)
}

// StatsReporter feeds a metrics.Collector.
type StatsReporter struct {
	Collector *metrics.Collector
}

func (r StatsReporter) StateChanged(string, State, State) {}

func (r StatsReporter) Fetched(route string, batch transit.Batch, latency time.Duration) {
	r.Collector.RecordFetch(route, len(batch.Locations), batch.LastTime, latency)
}

func (r StatsReporter) FetchFailed(route string, _ int64, _ error) {
	r.Collector.RecordFetchFailure(route)
}

func (r StatsReporter) Stored(route string, n int) {
	r.Collector.RecordStored(route, n)
}

func (r StatsReporter) StoreFailed(route string, _ int, _ error) {
	r.Collector.RecordStoreFailure(route)
}

func (r StatsReporter) Waiting(string, time.Duration) {}

// MultiReporter fans every event out to each reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) StateChanged(route string, from, to State) {
	for _, r := range m {
		r.StateChanged(route, from, to)
	}
}

func (m MultiReporter) Fetched(route string, batch transit.Batch, latency time.Duration) {
	for _, r := range m {
		r.Fetched(route, batch, latency)
	}
}

func (m MultiReporter) FetchFailed(route string, watermark int64, err error) {
	for _, r := range m {
		r.FetchFailed(route, watermark, err)
	}
}

func (m MultiReporter) Stored(route string, n int) {
	for _, r := range m {
		r.Stored(route, n)
	}
}

func (m MultiReporter) StoreFailed(route string, n int, err error) {
	for _, r := range m {
		r.StoreFailed(route, n, err)
	}
}

func (m MultiReporter) Waiting(route string, d time.Duration) {
	for _, r := range m {
		r.Waiting(route, d)
	}
}
