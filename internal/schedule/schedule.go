// Package schedule provides cancellable one-shot tasks and periodic jobs.
//
// Matches own their countdown and idle-cleanup timers through a Handle and
// cancel it on every state exit. Cron is the production implementation on
// top of gocron; Manual is a deterministic clock for tests.
package schedule

import (
	"time"
)

// Handle cancels a scheduled task. Cancel is idempotent and safe to call
// after the task has already run.
type Handle interface {
	Cancel()
}

// Scheduler runs fn once after d has elapsed.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Handle
}

// Cancel cancels h if it is non-nil.
func Cancel(h Handle) {
	if h != nil {
		h.Cancel()
	}
}

// Timers schedules on the runtime timer heap. It backs registries built
// without a Cron.
type Timers struct{}

func (Timers) AfterFunc(d time.Duration, fn func()) Handle {
	return stopper{time.AfterFunc(d, fn)}
}

type stopper struct {
	t *time.Timer
}

func (s stopper) Cancel() { s.t.Stop() }
