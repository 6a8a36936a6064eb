package backup

import (
	"context"
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
)

// DefaultInterval is how often the scheduler takes a backup.
const DefaultInterval = 5 * time.Minute

// Scheduler takes a backup on a fixed interval until stopped.
type Scheduler struct {
	mgr      *Manager
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(mgr *Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{mgr: mgr, interval: interval}
}

// Start launches the backup loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	logger.Info("Backup scheduler started", "interval", s.interval.String())
}

// Stop ends the loop and waits for an in-flight backup to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("Backup scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.mgr.Take(ctx); err != nil {
				logger.LogErr(err, "scheduled backup failed")
			}
		}
	}
}
