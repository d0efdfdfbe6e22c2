// Package monitor runs the background refresh loop that keeps the
// portfolio snapshot current for dashboards and exported metrics.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"funding_harvester/internal/core"
)

// DefaultRefreshInterval is used when the configuration does not set one.
const DefaultRefreshInterval = 30 * time.Second

// Snapshotter is the single orchestrator capability the scheduler needs.
type Snapshotter interface {
	GetComprehensivePortfolioData(ctx context.Context) (*core.PortfolioSnapshot, error)
}

// Scheduler refreshes the portfolio snapshot on a fixed interval and keeps
// the latest outcome. While the interactive flag is held the cycle is
// skipped, so an operator mid-trade never races a background refresh.
type Scheduler struct {
	source   Snapshotter
	interval time.Duration
	logger   core.ILogger

	interactive atomic.Bool

	mu      sync.RWMutex
	last    *core.PortfolioSnapshot
	lastErr error
	lastAt  time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewScheduler wires the refresh loop to its snapshot source. A
// non-positive interval falls back to DefaultRefreshInterval.
func NewScheduler(source Snapshotter, interval time.Duration, logger core.ILogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Scheduler{
		source:   source,
		interval: interval,
		logger:   logger.WithField("component", "refresh_scheduler"),
		stopChan: make(chan struct{}),
	}
}

// Start runs the refresh loop until the context is cancelled or Stop is
// called. The first cycle runs immediately so dashboards have data before
// the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting refresh scheduler", "interval", s.interval.String())
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopChan:
			s.logger.Info("Refresh scheduler stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// Stop ends the loop. Safe to call more than once.
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	return nil
}

// SetInteractive pauses (true) or resumes (false) background refreshes.
// The flag is sampled at the top of each cycle; a cycle already in flight
// finishes.
func (s *Scheduler) SetInteractive(active bool) {
	s.interactive.Store(active)
}

// IsInteractive reports whether refreshes are currently paused.
func (s *Scheduler) IsInteractive() bool {
	return s.interactive.Load()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if s.interactive.Load() {
		s.logger.Debug("Skipping refresh, interactive session active")
		return
	}
	snap, err := s.source.GetComprehensivePortfolioData(ctx)
	if err != nil {
		s.logger.Warn("Portfolio refresh incomplete", "error", err)
	}
	s.mu.Lock()
	s.last = snap
	s.lastErr = err
	s.lastAt = time.Now()
	s.mu.Unlock()
}

// LastSnapshot returns the most recent refresh outcome and when it ran.
// The snapshot is nil until the first cycle completes; a partial snapshot
// is stored together with its error so consumers can render fresh data and
// surface the failure.
func (s *Scheduler) LastSnapshot() (*core.PortfolioSnapshot, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastAt, s.lastErr
}
