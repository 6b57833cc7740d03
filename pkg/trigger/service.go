// Trigger adapts timers and change notifications into serial calls on
// the core. The core itself never schedules anything; it exposes
// synchronous entry points and this package decides when to call them.
package trigger

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	changeCh chan string
	stopCh   chan struct{}
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger))),
		logger:   logger,
		changeCh: make(chan string, 64),
		stopCh:   make(chan struct{}),
	}
}

// EveryInterval runs job on a fixed wall-clock cadence.
func (s *Scheduler) EveryInterval(seconds int, job func()) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", seconds), job)
	return err
}

// AtLocalMidnight runs job once per day at 00:00 local time, for
// snapshot rollover.
func (s *Scheduler) AtLocalMidnight(job func()) error {
	_, err := s.cron.AddFunc("0 0 0 * * *", job)
	return err
}

// NotifyChange queues a source change for event-driven recomputation.
// Non-blocking: when the queue is full the change is dropped, which is
// fine because the next accepted notification reads the same current
// totals.
func (s *Scheduler) NotifyChange(sourceID string) {
	select {
	case s.changeCh <- sourceID:
	default:
		s.logger.Debug("change queue full, dropping notification",
			zap.String("source", sourceID))
	}
}

// OnChange starts a single consumer goroutine dispatching queued change
// notifications to job one at a time. Serial dispatch is what lets the
// engine treat each invocation as atomic over its baseline.
func (s *Scheduler) OnChange(job func(sourceID string)) {
	go func() {
		for {
			select {
			case sourceID := <-s.changeCh:
				job(sourceID)
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
