package poller

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/MKuranowski/go-extra-lib/container/set"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs one independent RoutePoller per route tag.
type Scheduler struct {
	Feed  Fetcher
	Store Store
	// InitialWait and Lookback are passed to every poller; zero means default.
	InitialWait time.Duration
	Lookback    time.Duration
	Options     []Option
}

// Pollers builds one poller per tag, ordered by tag.
func (s *Scheduler) Pollers(routeTags set.Set[string], baseWait, spread time.Duration) []*RoutePoller {
	tags := slices.Sorted(maps.Keys(routeTags))
	pollers := make([]*RoutePoller, 0, len(tags))
	for _, tag := range tags {
		cfg := Config{
			RouteTag:    tag,
			BaseWait:    baseWait,
			Spread:      spread,
			InitialWait: s.InitialWait,
			Lookback:    s.Lookback,
		}
		pollers = append(pollers, New(cfg, s.Feed, s.Store, s.Options...))
	}
	return pollers
}

// Run starts every poller concurrently and blocks until ctx is cancelled and
// all of them have stopped.
func (s *Scheduler) Run(ctx context.Context, routeTags set.Set[string], baseWait, spread time.Duration) error {
	return RunAll(ctx, s.Pollers(routeTags, baseWait, spread))
}

// RunAll runs the given pollers concurrently until ctx is cancelled.
func RunAll(ctx context.Context, pollers []*RoutePoller) error {
	var g errgroup.Group
	for _, p := range pollers {
		g.Go(func() error {
			return p.Run(ctx)
		})
	}
	return g.Wait()
}
