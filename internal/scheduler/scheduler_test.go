package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatmind/chatmind/internal/core"
)

type armCall struct {
	fireAt  time.Time
	key     string
	payload Payload
}

type fakeAlarms struct {
	mu      sync.Mutex
	arms    []armCall
	cancels []string
	armErr  error
}

func (f *fakeAlarms) Arm(fireAt time.Time, key string, payload Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armErr != nil {
		return f.armErr
	}
	f.arms = append(f.arms, armCall{fireAt: fireAt, key: key, payload: payload})
	return nil
}

func (f *fakeAlarms) Cancel(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, key)
}

type fakeSource struct {
	reminders []*core.Reminder
	err       error
}

func (f *fakeSource) GetUpcoming(now time.Time) ([]*core.Reminder, error) {
	return f.reminders, f.err
}

type fakeDismisser struct {
	mu        sync.Mutex
	dismissed []core.ReminderID
}

func (f *fakeDismisser) Dismiss(id core.ReminderID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, id)
}

var schedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)

func newTestScheduler(alarms AlarmService, src ReminderSource, dis Dismisser) *Scheduler {
	s := New(alarms, src, dis, Config{})
	s.now = func() time.Time { return schedNow }
	return s
}

func futureReminder(id string, eventAt time.Time) *core.Reminder {
	return &core.Reminder{
		ID:       core.ReminderID(id),
		Title:    "Futsal",
		EventAt:  eventAt,
		Category: core.CategorySports,
	}
}

func TestScheduleArmsAtLeadBeforeEvent(t *testing.T) {
	alarms := &fakeAlarms{}
	s := newTestScheduler(alarms, nil, nil)

	r := futureReminder("rem-1", schedNow.Add(2*time.Hour))
	if !s.Schedule(r) {
		t.Fatal("Schedule returned false")
	}

	if len(alarms.arms) != 1 {
		t.Fatalf("arm calls = %d", len(alarms.arms))
	}
	call := alarms.arms[0]
	wantFire := r.EventAt.Add(-DefaultLead)
	if !call.fireAt.Equal(wantFire) {
		t.Errorf("fireAt = %v, want %v", call.fireAt, wantFire)
	}
	if call.key != "reminder-rem-1" {
		t.Errorf("key = %q", call.key)
	}
	if call.payload.ReminderID != r.ID || call.payload.Title != r.Title {
		t.Errorf("payload = %+v", call.payload)
	}
	if call.payload.IsSnooze {
		t.Error("fresh schedule should not carry the snooze flag")
	}
}

func TestSchedulePastNotifyTimeSkips(t *testing.T) {
	alarms := &fakeAlarms{}
	s := newTestScheduler(alarms, nil, nil)

	// Event 3 minutes out: notify-at is 2 minutes in the past.
	r := futureReminder("rem-1", schedNow.Add(3*time.Minute))
	if s.Schedule(r) {
		t.Fatal("Schedule should skip a past notify-at")
	}
	if len(alarms.arms) != 0 {
		t.Errorf("arm calls = %d, want 0", len(alarms.arms))
	}
}

func TestScheduleArmFailureIsSwallowed(t *testing.T) {
	alarms := &fakeAlarms{armErr: errors.New("denied")}
	s := newTestScheduler(alarms, nil, nil)

	if s.Schedule(futureReminder("rem-1", schedNow.Add(time.Hour))) {
		t.Fatal("Schedule should report false on arm failure")
	}
}

func TestSnoozeRoundTrip(t *testing.T) {
	alarms := &fakeAlarms{}
	dis := &fakeDismisser{}
	s := newTestScheduler(alarms, nil, dis)

	r := futureReminder("rem-1", schedNow.Add(time.Hour))
	if !s.Snooze(r) {
		t.Fatal("Snooze returned false")
	}

	if len(alarms.cancels) != 1 || alarms.cancels[0] != "reminder-rem-1" {
		t.Errorf("cancels = %v", alarms.cancels)
	}
	if len(dis.dismissed) != 1 || dis.dismissed[0] != r.ID {
		t.Errorf("dismissed = %v", dis.dismissed)
	}
	if len(alarms.arms) != 1 {
		t.Fatalf("arm calls = %d", len(alarms.arms))
	}
	call := alarms.arms[0]
	if !call.fireAt.Equal(schedNow.Add(DefaultSnooze)) {
		t.Errorf("fireAt = %v, want now+%v", call.fireAt, DefaultSnooze)
	}
	if !call.payload.IsSnooze {
		t.Error("snooze payload not flagged")
	}

	s.Cancel(r.ID)
	if len(alarms.cancels) != 2 {
		t.Errorf("cancels after Cancel = %v", alarms.cancels)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	alarms := &fakeAlarms{}
	s := newTestScheduler(alarms, nil, nil)

	s.Cancel("rem-1")
	s.Cancel("rem-1")
	if len(alarms.cancels) != 2 {
		t.Errorf("cancels = %v", alarms.cancels)
	}
}

func TestRescheduleAll(t *testing.T) {
	src := &fakeSource{reminders: []*core.Reminder{
		futureReminder("rem-1", schedNow.Add(time.Hour)),
		futureReminder("rem-2", schedNow.Add(2*time.Hour)),
		futureReminder("rem-3", schedNow.Add(3*time.Minute)), // past notify-at
	}}
	alarms := &fakeAlarms{}
	s := newTestScheduler(alarms, src, nil)

	armed, err := s.RescheduleAll()
	if err != nil {
		t.Fatalf("RescheduleAll: %v", err)
	}
	if armed != 2 {
		t.Errorf("armed = %d, want 2", armed)
	}
	if len(alarms.arms) != 2 {
		t.Errorf("arm calls = %d, want 2", len(alarms.arms))
	}
}

func TestRescheduleAllStoreFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("db locked")}
	s := newTestScheduler(&fakeAlarms{}, src, nil)

	if _, err := s.RescheduleAll(); err == nil {
		t.Fatal("expected error")
	}
}

func TestInProcessAlarmFires(t *testing.T) {
	fired := make(chan Payload, 1)
	alarms := NewInProcessAlarms(func(p Payload) { fired <- p })
	defer alarms.Stop()

	payload := Payload{ReminderID: "rem-1", Title: "Futsal"}
	if err := alarms.Arm(time.Now().Add(20*time.Millisecond), "k1", payload); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	select {
	case got := <-fired:
		if got.ReminderID != "rem-1" {
			t.Errorf("payload = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}
	if alarms.Pending() != 0 {
		t.Errorf("pending = %d after firing", alarms.Pending())
	}
}

func TestInProcessAlarmCancel(t *testing.T) {
	fired := make(chan Payload, 1)
	alarms := NewInProcessAlarms(func(p Payload) { fired <- p })
	defer alarms.Stop()

	alarms.Arm(time.Now().Add(50*time.Millisecond), "k1", Payload{ReminderID: "rem-1"})
	alarms.Cancel("k1")
	alarms.Cancel("k1") // unknown key no-op

	select {
	case p := <-fired:
		t.Fatalf("cancelled alarm fired: %+v", p)
	case <-time.After(200 * time.Millisecond):
	}
	if alarms.Pending() != 0 {
		t.Errorf("pending = %d", alarms.Pending())
	}
}

func TestInProcessAlarmRearmReplaces(t *testing.T) {
	var mu sync.Mutex
	var got []Payload
	alarms := NewInProcessAlarms(func(p Payload) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})
	defer alarms.Stop()

	alarms.Arm(time.Now().Add(30*time.Millisecond), "k1", Payload{Title: "first"})
	alarms.Arm(time.Now().Add(30*time.Millisecond), "k1", Payload{Title: "second"})

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Title != "second" {
		t.Errorf("fired = %+v, want only the replacement", got)
	}
}
