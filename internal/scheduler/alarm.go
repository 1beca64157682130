package scheduler

import (
	"context"
	"sync"
	"time"
)

// FireFunc receives the payload when an alarm goes off.
type FireFunc func(Payload)

// InProcessAlarms is an AlarmService backed by per-key goroutines. It is
// exact to the resolution of the runtime timer, so the exact-versus-inexact
// degrade never applies here; the distinction exists for platform-backed
// implementations. Armed alarms do not survive the process, which is what
// Scheduler.RescheduleAll exists to repair.
type InProcessAlarms struct {
	fire FireFunc

	mu      sync.Mutex
	pending map[string]context.CancelFunc
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewInProcessAlarms creates an alarm service delivering fired payloads to
// fn. fn is called from the alarm's own goroutine.
func NewInProcessAlarms(fn FireFunc) *InProcessAlarms {
	ctx, cancel := context.WithCancel(context.Background())
	return &InProcessAlarms{
		fire:    fn,
		pending: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Arm schedules a one-shot firing at fireAt. Re-arming an existing key
// replaces its timer.
func (a *InProcessAlarms) Arm(fireAt time.Time, key string, payload Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cancel, ok := a.pending[key]; ok {
		cancel()
	}

	alarmCtx, cancel := context.WithCancel(a.ctx)
	a.pending[key] = cancel

	a.wg.Add(1)
	go a.wait(alarmCtx, fireAt, key, payload)
	return nil
}

func (a *InProcessAlarms) wait(ctx context.Context, fireAt time.Time, key string, payload Payload) {
	defer a.wg.Done()

	wait := time.Until(fireAt)
	if wait < 0 {
		wait = 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	a.mu.Lock()
	// A cancel can land between the timer firing and us taking the lock;
	// a cancelled alarm must not deliver.
	if ctx.Err() != nil {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	a.mu.Unlock()

	a.fire(payload)
}

// Cancel stops a pending alarm. Unknown keys are a no-op.
func (a *InProcessAlarms) Cancel(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cancel, ok := a.pending[key]; ok {
		cancel()
		delete(a.pending, key)
	}
}

// Pending returns how many alarms are armed.
func (a *InProcessAlarms) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stop cancels every pending alarm and waits for their goroutines.
func (a *InProcessAlarms) Stop() {
	a.cancel()

	a.mu.Lock()
	a.pending = make(map[string]context.CancelFunc)
	a.mu.Unlock()

	a.wg.Wait()
}
