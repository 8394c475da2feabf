package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type expiredSlotSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// SlotSweeper periodically removes expired slots that were never booked.
type SlotSweeper struct {
	registry expiredSlotSweeper
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewSlotSweeper constructs a sweeper running every interval.
func NewSlotSweeper(registry expiredSlotSweeper, interval time.Duration, logger *zap.Logger) *SlotSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotSweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately and then on every tick until Stop or ctx cancellation.
func (s *SlotSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.logger.Info("starting slot sweeper", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

// Stop halts the sweeper and waits for the loop to exit.
func (s *SlotSweeper) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.done
}

func (s *SlotSweeper) run(ctx context.Context) {
	defer close(s.done)
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			s.logger.Info("slot sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("slot sweeper cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep and returns the number of deleted slots.
func (s *SlotSweeper) RunOnce(ctx context.Context) (int64, error) {
	return s.registry.SweepExpired(ctx, s.now())
}

func (s *SlotSweeper) sweep(ctx context.Context) {
	deleted, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("failed to sweep expired slots", zap.Error(err))
		return
	}
	s.logger.Debug("slot sweep completed", zap.Int64("deleted", deleted))
}
