package rules

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the tick interval used when none is configured.
const DefaultInterval = 30 * time.Second

// ErrSchedulerStarted is returned when Start is called twice.
var ErrSchedulerStarted = errors.New("scheduler already started")

// Scheduler calls a tick function on a fixed interval until stopped. It is single use:
// create a new Scheduler for every loaded configuration.
type Scheduler struct {
	interval time.Duration
	tick     func()
	logger   *zap.Logger

	mu       sync.Mutex
	ticking  atomic.Bool
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. A non-positive interval uses DefaultInterval.
func NewScheduler(interval time.Duration, tick func(), logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		tick:     tick,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the ticker goroutine. It runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.logger.Info("rule scheduler started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ticking.Store(true)
			s.tick()
			s.ticking.Store(false)
		}
	}
}

// Done is closed once the ticker goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Stop cancels the ticker and waits for the goroutine to exit. It is safe to call more than
// once and before Start. Called while a tick is running, typically from a handler the tick
// notified, Stop only cancels: the goroutine exits when that tick returns, and Done reports it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		cancel := s.cancel
		s.started = true
		s.mu.Unlock()

		if !started {
			return
		}
		cancel()
		if s.ticking.Load() {
			s.logger.Info("rule scheduler stopping after the current tick")
			return
		}
		<-s.done
		s.logger.Info("rule scheduler stopped")
	})
}
