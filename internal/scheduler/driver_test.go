package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMetrics struct {
	mu      sync.Mutex
	ticks   int
	skipped int
}

func (s *stubMetrics) ObserveTick(duration time.Duration, created int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
}

func (s *stubMetrics) ObserveTickSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

func (s *stubMetrics) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.skipped
}

func TestDriverRunsImmediatelyOnStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	d := NewDriver(func(ctx context.Context) (int, error) {
		ran <- struct{}{}
		return 0, nil
	}, nil, nil, Config{Interval: time.Hour})

	require.NoError(t, d.Start())
	defer d.Stop(context.Background()) //nolint:errcheck

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not run on start")
	}
}

func TestDriverStartIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	d := NewDriver(func(ctx context.Context) (int, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		return 0, nil
	}, nil, nil, Config{Interval: time.Hour})

	require.NoError(t, d.Start())
	require.NoError(t, d.Start())
	defer d.Stop(context.Background()) //nolint:errcheck

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs)
}

func TestDriverSkipsOverlappingTick(t *testing.T) {
	metrics := &stubMetrics{}
	release := make(chan struct{})
	started := make(chan struct{})
	d := NewDriver(func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	}, metrics, nil, Config{Interval: time.Hour})

	require.NoError(t, d.Start())
	<-started

	// A second tick while the first is in flight must be dropped.
	d.runTick()
	_, skipped := metrics.counts()
	assert.Equal(t, 1, skipped)

	close(release)
	require.NoError(t, d.Stop(context.Background()))

	ticks, _ := metrics.counts()
	assert.Equal(t, 1, ticks)
}

func TestDriverStopWaitsForTickUpToDeadline(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	d := NewDriver(func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	}, nil, nil, Config{Interval: time.Hour})

	require.NoError(t, d.Start())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := d.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestDriverStopOnStoppedDriverIsNoop(t *testing.T) {
	d := NewDriver(func(ctx context.Context) (int, error) { return 0, nil }, nil, nil, Config{})
	require.NoError(t, d.Stop(context.Background()))
}
