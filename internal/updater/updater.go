// Package updater runs periodic update checks against the licensing
// service through the license manager. It only discovers updates; the
// host decides what to do with them through the notify callback.
package updater

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"keyline/pkg/contracts/domain"
)

// UpdateChecker is the manager surface the scheduler depends on.
type UpdateChecker interface {
	CheckForUpdates(ctx context.Context) (*domain.UpdateInfo, error)
}

// NotifyFunc receives each discovered update. Called from the
// scheduler goroutine; implementations must not block indefinitely.
type NotifyFunc func(ctx context.Context, info *domain.UpdateInfo)

// Scheduler periodically asks the licensing service for updates. The
// manager's update cache already bounds remote traffic, so a short
// interval only costs local cache reads.
type Scheduler struct {
	checker  UpdateChecker
	interval time.Duration
	notify   NotifyFunc
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates an update scheduler. A nil notify drops
// discovered updates after logging them.
func NewScheduler(checker UpdateChecker, interval time.Duration, notify NotifyFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		checker:  checker,
		interval: interval,
		notify:   notify,
		logger:   logger.With(slog.String("component", "update_scheduler")),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the check loop. It performs one immediate check, then
// one per interval until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	info, err := s.checker.CheckForUpdates(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled update check failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if info == nil {
		s.logger.DebugContext(ctx, "no update available")
		return
	}

	s.logger.InfoContext(ctx, "update available",
		slog.String("version", info.Version),
		slog.String("download_url", info.DownloadURL),
	)

	if s.notify != nil {
		s.notify(ctx, info)
	}
}

// Stop halts the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
