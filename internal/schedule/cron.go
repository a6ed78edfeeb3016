package schedule

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cron schedules tasks on a gocron scheduler.
type Cron struct {
	s   gocron.Scheduler
	log *zap.Logger
}

func NewCron(log *zap.Logger) (*Cron, error) {
	s, err := gocron.NewScheduler(gocron.WithLogger(cronLogger{log.Sugar()}))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.Start()
	return &Cron{s: s, log: log}, nil
}

type cronHandle struct {
	s         gocron.Scheduler
	id        atomic.Pointer[uuid.UUID]
	cancelled atomic.Bool
}

func (h *cronHandle) Cancel() {
	if h.cancelled.Swap(true) {
		return
	}
	if id := h.id.Load(); id != nil {
		// ErrJobNotFound once the job has run
		_ = h.s.RemoveJob(*id)
	}
}

// AfterFunc registers a one-shot job. A cancelled handle never runs fn even
// if the job was already due.
func (c *Cron) AfterFunc(d time.Duration, fn func()) Handle {
	h := &cronHandle{s: c.s}
	start := gocron.OneTimeJobStartImmediately()
	if d > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(d))
	}

	job, err := c.s.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			if h.cancelled.Load() {
				return
			}
			fn()
		}),
		gocron.WithLimitedRuns(1),
	)
	if err != nil {
		// fall back to the runtime timer so the task is never lost
		c.log.Warn("one-shot job rejected, using runtime timer", zap.Duration("delay", d), zap.Error(err))
		t := time.AfterFunc(d, func() {
			if !h.cancelled.Load() {
				fn()
			}
		})
		return timerHandle{t: t, h: h}
	}
	id := job.ID()
	h.id.Store(&id)
	return h
}

type timerHandle struct {
	t *time.Timer
	h *cronHandle
}

func (t timerHandle) Cancel() {
	t.h.cancelled.Store(true)
	t.t.Stop()
}

// Every registers a named periodic job that never overlaps itself.
func (c *Cron) Every(name string, d time.Duration, fn func()) error {
	_, err := c.s.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}
	return nil
}

func (c *Cron) Shutdown() error {
	return c.s.Shutdown()
}

// cronLogger adapts zap to gocron's key/value logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Debug(msg string, args ...any) { c.l.Debugw(msg, args...) }
func (c cronLogger) Info(msg string, args ...any)  { c.l.Infow(msg, args...) }
func (c cronLogger) Warn(msg string, args ...any)  { c.l.Warnw(msg, args...) }
func (c cronLogger) Error(msg string, args ...any) { c.l.Errorw(msg, args...) }
