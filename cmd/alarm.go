package cmd

import (
	"context"
	"sync"
	"time"
)

const alarmPollInterval = time.Second

// Alarm fires once when the wall clock passes its deadline. Firing closes
// Done and then runs the optional onFire hook.
type Alarm struct {
	deadline time.Time
	poll     time.Duration
	now      func() time.Time
	onFire   func(deadline time.Time)

	done chan struct{}
	once sync.Once
}

// NewAlarm creates an alarm for deadline. onFire may be nil.
func NewAlarm(deadline time.Time, onFire func(deadline time.Time)) *Alarm {
	return &Alarm{
		deadline: deadline,
		poll:     alarmPollInterval,
		now:      time.Now,
		onFire:   onFire,
		done:     make(chan struct{}),
	}
}

// Deadline returns the instant the alarm fires at.
func (a *Alarm) Deadline() time.Time { return a.deadline }

// Done is closed when the alarm has fired.
func (a *Alarm) Done() <-chan struct{} { return a.done }

// Remaining returns the time left before the deadline, never negative.
func (a *Alarm) Remaining() time.Duration {
	if d := a.deadline.Sub(a.now()); d > 0 {
		return d
	}
	return 0
}

// Start polls the clock in a goroutine until the alarm fires or ctx ends.
func (a *Alarm) Start(ctx context.Context) {
	go a.run(ctx)
}

func (a *Alarm) run(ctx context.Context) {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	for {
		if a.check() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// check fires the alarm when the deadline has passed and reports whether it did.
func (a *Alarm) check() bool {
	if a.now().Before(a.deadline) {
		return false
	}
	a.fire()
	return true
}

func (a *Alarm) fire() {
	a.once.Do(func() {
		close(a.done)
		if a.onFire != nil {
			a.onFire(a.deadline)
		}
	})
}
