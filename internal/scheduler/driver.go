package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TickFunc runs one generation pass and reports how many instances it
// created.
type TickFunc func(ctx context.Context) (int, error)

// TickMetrics receives per-tick observations. Implemented by the metrics
// service; nil disables instrumentation.
type TickMetrics interface {
	ObserveTick(duration time.Duration, created int)
	ObserveTickSkipped()
}

// Config tunes the driver.
type Config struct {
	Interval    time.Duration
	TickTimeout time.Duration
}

// Driver periodically invokes a tick function. Ticks are serialized: when
// one is still running as the next interval elapses, the new tick is
// skipped rather than stacked. Start is idempotent; Stop waits for an
// in-flight tick up to the context deadline.
type Driver struct {
	tick    TickFunc
	metrics TickMetrics
	logger  *zap.Logger
	config  Config

	mu      sync.Mutex
	cron    *cron.Cron
	started bool

	tickMu sync.Mutex
}

// NewDriver constructs a stopped driver.
func NewDriver(tick TickFunc, metrics TickMetrics, logger *zap.Logger, config Config) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.TickTimeout <= 0 {
		config.TickTimeout = 10 * time.Minute
	}
	return &Driver{tick: tick, metrics: metrics, logger: logger, config: config}
}

// Start begins the periodic loop and fires the first tick immediately so a
// fresh deployment does not wait a full interval. Calling Start on a
// running driver is a logged no-op.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		d.logger.Warn("scheduler already started")
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(&zapCronLogger{logger: d.logger}),
	))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", d.config.Interval), d.runTick); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	d.cron = c
	d.started = true
	c.Start()
	d.logger.Info("scheduler started", zap.Duration("interval", d.config.Interval))

	go d.runTick()
	return nil
}

// Stop halts the loop and waits for any running tick until ctx is done.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	c := d.cron
	d.started = false
	d.cron = nil
	d.mu.Unlock()

	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("scheduler stop timed out with tick in flight")
		return ctx.Err()
	}

	// The immediate first tick runs outside cron's job tracking, so drain
	// it explicitly as well.
	drained := make(chan struct{})
	go func() {
		d.tickMu.Lock()
		d.tickMu.Unlock() //nolint:staticcheck // lock acquisition is the wait
		close(drained)
	}()
	select {
	case <-drained:
		d.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("scheduler stop timed out with tick in flight")
		return ctx.Err()
	}
}

func (d *Driver) runTick() {
	if !d.tickMu.TryLock() {
		d.logger.Warn("previous tick still running, skipping")
		if d.metrics != nil {
			d.metrics.ObserveTickSkipped()
		}
		return
	}
	defer d.tickMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.config.TickTimeout)
	defer cancel()

	start := time.Now()
	created, err := d.tick(ctx)
	elapsed := time.Since(start)
	if d.metrics != nil {
		d.metrics.ObserveTick(elapsed, created)
	}
	if err != nil {
		d.logger.Error("scheduler tick failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	d.logger.Info("scheduler tick completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("created", created))
}

// zapCronLogger adapts zap to cron's logging interface.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
