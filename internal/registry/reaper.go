package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reaper runs Registry.Sweep on a fixed interval.
type Reaper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReaper creates a reaper for r. Each sweep's expiry hooks get a context
// bounded by the interval.
func NewReaper(r *Registry, interval time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		registry: r,
		interval: interval,
		timeout:  interval,
		logger:   logger.Named("reaper"),
	}
}

// Start schedules the sweep. Calling Start on a running reaper is a no-op.
func (rp *Reaper) Start() error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.cron != nil {
		return nil
	}
	if rp.interval <= 0 {
		return fmt.Errorf("reaper: interval must be positive, got %s", rp.interval)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+rp.interval.String(), rp.run); err != nil {
		return fmt.Errorf("reaper: failed to schedule sweep: %w", err)
	}
	c.Start()
	rp.cron = c
	rp.logger.Info("reaper started", zap.Duration("interval", rp.interval))
	return nil
}

// Stop halts scheduling and waits for a sweep in progress to finish.
func (rp *Reaper) Stop() {
	rp.mu.Lock()
	c := rp.cron
	rp.cron = nil
	rp.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	rp.logger.Info("reaper stopped")
}

func (rp *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), rp.timeout)
	defer cancel()
	rp.registry.Sweep(ctx)
}
