package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muni-locations/poller/internal/nextbus"
	"github.com/muni-locations/poller/internal/transit"
)

var start = time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC)

func newTestPoller(route string, feed Fetcher, store Store, opts ...Option) *RoutePoller {
	cfg := Config{
		RouteTag: route,
		BaseWait: 60 * time.Second,
		Spread:   10 * time.Second,
	}
	opts = append([]Option{WithClock(&fakeClock{now: start})}, opts...)
	return New(cfg, feed, store, opts...)
}

func vehicle(id, route string) transit.VehicleLocation {
	return transit.VehicleLocation{
		ID:              id,
		RouteTag:        route,
		Lat:             37.7,
		Lon:             -122.4,
		Heading:         90,
		SpeedKmHr:       12,
		Predictable:     true,
		SecsSinceReport: 5,
	}
}

func TestPollOnce_StoresBatchAndAdvancesWatermark(t *testing.T) {
	feed := newScriptedFeed().add("N", transit.Batch{
		Locations: []transit.VehicleLocation{vehicle("1234", "N")},
		LastTime:  1700000000000,
	}, nil)
	store := &memStore{}
	p := newTestPoller("N", feed, store)

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	rows := store.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, -122.4, rows[0].Lon)
	assert.Equal(t, 37.7, rows[0].Lat)
	assert.Equal(t, 90, rows[0].Heading)
	assert.Equal(t, 12, rows[0].SpeedKmHr)
	assert.True(t, rows[0].Predictable)
	assert.Equal(t, int64(1700000000000), p.Watermark())

	// first fetch reaches five minutes back
	assert.Equal(t, []int64{start.Add(-5 * time.Minute).UnixMilli()}, feed.sinces("N"))
}

func TestPollOnce_EmptyBatchAdvancesWatermarkWithoutInsert(t *testing.T) {
	feed := newScriptedFeed().add("N", transit.Batch{LastTime: 1700000100000}, nil)
	store := &memStore{err: errors.New("must not be called")}
	rep := newRecordingReporter()
	p := newTestPoller("N", feed, store, WithReporter(rep))

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, store.rows())
	assert.Equal(t, int64(1700000100000), p.Watermark())
	assert.NotContains(t, rep.transitions, StateIngesting)
}

func TestPollOnce_FeedErrorKeepsWatermark(t *testing.T) {
	feedErr := fmt.Errorf("could not get vehicle locations for N: %w", &nextbus.FeedError{Message: "invalid route"})
	feed := newScriptedFeed().add("N", transit.Batch{}, feedErr)
	store := &memStore{}
	rep := newRecordingReporter()
	p := newTestPoller("N", feed, store, WithReporter(rep))

	_, err := p.PollOnce(context.Background())
	require.ErrorIs(t, err, nextbus.ErrFeedError)

	assert.Equal(t, start.Add(-5*time.Minute).UnixMilli(), p.Watermark())
	assert.Empty(t, store.rows())
	assert.Len(t, rep.fetchFailures["N"], 1)
}

func TestPollOnce_StoreFailureKeepsAdvancedWatermark(t *testing.T) {
	feed := newScriptedFeed().add("N", transit.Batch{
		Locations: []transit.VehicleLocation{vehicle("1", "N")},
		LastTime:  1700000000000,
	}, nil)
	store := &memStore{err: errors.New("disk full")}
	rep := newRecordingReporter()
	p := newTestPoller("N", feed, store, WithReporter(rep))

	_, err := p.PollOnce(context.Background())
	require.Error(t, err)

	assert.Equal(t, int64(1700000000000), p.Watermark())
	assert.Len(t, rep.storeFailures["N"], 1)
}

func TestPollOnce_FeedWatermarkTrustedAsIs(t *testing.T) {
	feed := newScriptedFeed().
		add("N", transit.Batch{LastTime: 1700000100000}, nil).
		add("N", transit.Batch{LastTime: 1700000000000}, nil)
	p := newTestPoller("N", feed, &memStore{})

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	_, err = p.PollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000000), p.Watermark())
}

func TestRun_WaitsAreJittered(t *testing.T) {
	feed := newScriptedFeed().add("N", transit.Batch{LastTime: 1}, nil)
	sleeper := newCountingSleeper(20)
	p := newTestPoller("N", feed, &memStore{}, WithSleeper(sleeper.Sleep))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	<-sleeper.done
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	waits := sleeper.durations()
	require.Len(t, waits, 21)

	// initial stagger: 7s base with the same spread
	assert.GreaterOrEqual(t, waits[0], 2*time.Second-time.Millisecond)
	assert.LessOrEqual(t, waits[0], 12*time.Second+time.Millisecond)

	for _, d := range waits[1:] {
		assert.GreaterOrEqual(t, d, 55*time.Second-time.Millisecond)
		assert.LessOrEqual(t, d, 65*time.Second+time.Millisecond)
	}
	assert.Len(t, feed.sinces("N"), 20)
	assert.Equal(t, StateStopped, p.State())
}

func TestRun_WatermarkNeverDecreasesWithMonotonicFeed(t *testing.T) {
	feed := newScriptedFeed()
	for i := 0; i < 10; i++ {
		var locs []transit.VehicleLocation
		if i%2 == 0 {
			locs = []transit.VehicleLocation{vehicle(fmt.Sprint(i), "J")}
		}
		// two equal watermarks in a row are allowed
		feed.add("J", transit.Batch{Locations: locs, LastTime: 1700000000000 + int64(i/2)*60000}, nil)
	}
	sleeper := newCountingSleeper(10)
	p := newTestPoller("J", feed, &memStore{}, WithSleeper(sleeper.Sleep))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	<-sleeper.done
	cancel()
	<-errc

	sinces := feed.sinces("J")
	require.Len(t, sinces, 10)
	for i := 1; i < len(sinces); i++ {
		assert.GreaterOrEqual(t, sinces[i], sinces[i-1])
	}
	assert.Equal(t, int64(1700000000000+4*60000), p.Watermark())
}

func TestRun_FailureIsolation(t *testing.T) {
	feed := newScriptedFeed()
	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			feed.add("bad", transit.Batch{
				Locations: []transit.VehicleLocation{vehicle(fmt.Sprint(i), "bad")},
				LastTime:  1700000000000 + int64(i),
			}, nil)
		} else {
			feed.add("bad", transit.Batch{}, fmt.Errorf("boom: %w", nextbus.ErrFeedUnavailable))
		}
		feed.add("good", transit.Batch{
			Locations: []transit.VehicleLocation{vehicle(fmt.Sprint(i), "good")},
			LastTime:  1700000000000 + int64(i),
		}, nil)
	}
	store := &memStore{}
	rep := newRecordingReporter()

	badSleeper := newCountingSleeper(6)
	goodSleeper := newCountingSleeper(6)
	bad := newTestPoller("bad", feed, store, WithReporter(rep), WithSleeper(badSleeper.Sleep))
	good := newTestPoller("good", feed, store, WithReporter(rep), WithSleeper(goodSleeper.Sleep))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- RunAll(ctx, []*RoutePoller{bad, good}) }()

	<-badSleeper.done
	<-goodSleeper.done
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	// the failing route kept polling after every failure
	assert.Len(t, feed.sinces("bad"), 6)
	assert.Len(t, rep.fetchFailures["bad"], 3)
	assert.Equal(t, 3, rep.stored["bad"])
	assert.Equal(t, int64(1700000000004), bad.Watermark())

	assert.Empty(t, rep.fetchFailures["good"])
	assert.Empty(t, rep.storeFailures["good"])
	assert.Equal(t, 6, rep.stored["good"])
	assert.Equal(t, int64(1700000000005), good.Watermark())
}

func TestRun_StopsBeforeFirstPoll(t *testing.T) {
	feed := newScriptedFeed().add("N", transit.Batch{LastTime: 1}, nil)
	p := newTestPoller("N", feed, &memStore{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, feed.sinces("N"))
	assert.Equal(t, StateStopped, p.State())
}

func TestRun_StateSequence(t *testing.T) {
	feed := newScriptedFeed().add("N", transit.Batch{
		Locations: []transit.VehicleLocation{vehicle("1", "N")},
		LastTime:  1,
	}, nil)
	rep := newRecordingReporter()
	sleeper := newCountingSleeper(1)
	p := newTestPoller("N", feed, &memStore{}, WithReporter(rep), WithSleeper(sleeper.Sleep))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	<-sleeper.done
	cancel()
	<-errc

	assert.Equal(t, []State{StateWaiting, StateFetching, StateIngesting, StateWaiting, StateStopped}, rep.transitions)
}

func TestRoutePoller_StateReadableWhileRunning(t *testing.T) {
	feed := newScriptedFeed().add("N", transit.Batch{LastTime: 1}, nil)
	sleeper := newCountingSleeper(50)
	p := newTestPoller("N", feed, &memStore{}, WithSleeper(sleeper.Sleep))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	seen := map[State]bool{}
	for {
		seen[p.State()] = true
		select {
		case <-sleeper.done:
		default:
			continue
		}
		break
	}
	assert.Equal(t, StateWaiting, p.State())

	cancel()
	<-errc
	assert.Equal(t, StateStopped, p.State())
	assert.NotContains(t, seen, StateStopped)
}

func TestNewJitter_Bounds(t *testing.T) {
	tests := []struct {
		name         string
		base, spread time.Duration
		min, max     time.Duration
	}{
		{"default", 60 * time.Second, 10 * time.Second, 55 * time.Second, 65 * time.Second},
		{"no spread", 30 * time.Second, 0, 30 * time.Second, 30 * time.Second},
		{"lower end clamped", 2 * time.Second, 10 * time.Second, 0, 7 * time.Second},
		{"initial stagger, wide spread", 7 * time.Second, 30 * time.Second, 0, 22 * time.Second},
		{"zero base", 0, 10 * time.Second, 0, 5 * time.Second},
		{"zero base, no spread", 0, 0, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newJitter(tc.base, tc.spread, &fakeClock{now: start})
			for i := 0; i < 1000; i++ {
				d := b.NextBackOff()
				assert.GreaterOrEqual(t, d, tc.min-time.Millisecond)
				assert.LessOrEqual(t, d, tc.max+time.Millisecond)
			}
		})
	}
}

// Clamping the lower end must not pull the upper end in with it.
func TestNewJitter_WideSpreadKeepsUpperBound(t *testing.T) {
	b := newJitter(7*time.Second, 30*time.Second, &fakeClock{now: start})

	var longest time.Duration
	for i := 0; i < 5000; i++ {
		longest = max(longest, b.NextBackOff())
	}
	assert.Greater(t, longest, 18*time.Second)
	assert.LessOrEqual(t, longest, 22*time.Second+time.Millisecond)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fetching", StateFetching.String())
	assert.Equal(t, "unknown", State(42).String())
}
