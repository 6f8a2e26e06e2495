// Package poller drives the per-route poll, ingest and wait cycle.
package poller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MKuranowski/go-extra-lib/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/muni-locations/poller/internal/transit"
)

const (
	DefaultInitialWait = 7 * time.Second
	DefaultLookback    = 5 * time.Minute
)

// State is a RoutePoller lifecycle state.
type State int

const (
	StateStarting State = iota
	StateWaiting
	StateFetching
	StateIngesting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWaiting:
		return "waiting"
	case StateFetching:
		return "fetching"
	case StateIngesting:
		return "ingesting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Fetcher is the feed side of a poller.
type Fetcher interface {
	FetchVehicleLocations(ctx context.Context, routeTag string, sinceMs int64) (transit.Batch, error)
}

// Store is the persistence side of a poller.
type Store interface {
	InsertVehicleLocations(ctx context.Context, locs []transit.VehicleLocation) error
}

// Clock tells the current time.
type Clock interface {
	Now() time.Time
}

// Config describes one route's polling.
type Config struct {
	RouteTag string
	// BaseWait and Spread define the uniform wait window between polls.
	BaseWait time.Duration
	Spread   time.Duration
	// InitialWait is the base of the staggering delay before the first poll.
	InitialWait time.Duration
	// Lookback is how far before start the first poll reaches.
	Lookback time.Duration
}

// RoutePoller polls a single route forever. It owns the route's watermark.
type RoutePoller struct {
	cfg      Config
	feed     Fetcher
	store    Store
	reporter Reporter
	clock    Clock
	sleep    Sleeper

	state     atomic.Int32
	watermark atomic.Int64
	started   bool
}

// Option customises a RoutePoller.
type Option func(*RoutePoller)

// WithReporter sets the observer for state changes and failures.
func WithReporter(r Reporter) Option {
	return func(p *RoutePoller) { p.reporter = r }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *RoutePoller) { p.clock = c }
}

// WithSleeper replaces the context-aware timer used for waits.
func WithSleeper(s Sleeper) Option {
	return func(p *RoutePoller) { p.sleep = s }
}

// New creates a poller for cfg.RouteTag. Zero InitialWait and Lookback take
// the defaults.
func New(cfg Config, feed Fetcher, store Store, opts ...Option) *RoutePoller {
	if cfg.InitialWait == 0 {
		cfg.InitialWait = DefaultInitialWait
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = DefaultLookback
	}

	p := &RoutePoller{
		cfg:      cfg,
		feed:     feed,
		store:    store,
		reporter: NopReporter{},
		clock:    clock.System,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RouteTag returns the polled route.
func (p *RoutePoller) RouteTag() string {
	return p.cfg.RouteTag
}

// Watermark returns the current lower time bound, epoch milliseconds.
func (p *RoutePoller) Watermark() int64 {
	return p.watermark.Load()
}

// State returns the current state. Safe to call from any goroutine.
func (p *RoutePoller) State() State {
	return State(p.state.Load())
}

func (p *RoutePoller) transition(to State) {
	from := State(p.state.Swap(int32(to)))
	if from == to {
		return
	}
	p.reporter.StateChanged(p.cfg.RouteTag, from, to)
}

// start initialises the watermark once per poller lifetime
func (p *RoutePoller) start() {
	if p.started {
		return
	}
	p.started = true
	p.watermark.Store(p.clock.Now().Add(-p.cfg.Lookback).UnixMilli())
}

// Run waits a staggered initial delay, then polls until ctx is cancelled.
// Per-cycle failures are reported and never end the loop; the only return
// value is ctx's error.
func (p *RoutePoller) Run(ctx context.Context) error {
	p.start()

	initial := newJitter(p.cfg.InitialWait, p.cfg.Spread, p.clock)
	waits := newJitter(p.cfg.BaseWait, p.cfg.Spread, p.clock)

	if err := p.wait(ctx, initial); err != nil {
		p.transition(StateStopped)
		return err
	}

	for {
		p.PollOnce(ctx)
		if err := p.wait(ctx, waits); err != nil {
			p.transition(StateStopped)
			return err
		}
	}
}

func (p *RoutePoller) wait(ctx context.Context, b backoff.BackOff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.transition(StateWaiting)
	d := b.NextBackOff()
	p.reporter.Waiting(p.cfg.RouteTag, d)
	return p.sleep(ctx, d)
}

// PollOnce runs a single fetch and, for a non-empty batch, a single insert.
// A successful fetch advances the watermark to the feed's lastTime even when
// the insert then fails. The returned error is the fetch or store error; it
// has already been reported.
func (p *RoutePoller) PollOnce(ctx context.Context) (transit.Batch, error) {
	p.start()
	route := p.cfg.RouteTag

	p.transition(StateFetching)
	since := p.watermark.Load()
	began := p.clock.Now()
	batch, err := p.feed.FetchVehicleLocations(ctx, route, since)
	if err != nil {
		if ctx.Err() == nil {
			p.reporter.FetchFailed(route, since, err)
		}
		return transit.Batch{}, err
	}

	// the feed's watermark is trusted as-is
	p.watermark.Store(batch.LastTime)
	p.reporter.Fetched(route, batch, p.clock.Now().Sub(began))

	if len(batch.Locations) == 0 {
		return batch, nil
	}

	p.transition(StateIngesting)
	if err := p.store.InsertVehicleLocations(ctx, batch.Locations); err != nil {
		p.reporter.StoreFailed(route, len(batch.Locations), err)
		return batch, err
	}
	p.reporter.Stored(route, len(batch.Locations))
	return batch, nil
}
