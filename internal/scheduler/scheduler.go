// Package scheduler converts confirmed reminders into timed alarms: it
// computes the notify-at lead, arms and cancels one-shot timers through an
// AlarmService collaborator, and re-arms everything on cold start.
package scheduler

import (
	"fmt"
	"time"

	"github.com/chatmind/chatmind/internal/core"
	"github.com/chatmind/chatmind/internal/logging"
)

const (
	// DefaultLead is how far before the event a reminder fires.
	DefaultLead = 5 * time.Minute

	// DefaultSnooze is the re-arm delay after a snooze.
	DefaultSnooze = 10 * time.Minute
)

// Payload is what an armed alarm carries to the delivery path when it
// fires.
type Payload struct {
	ReminderID  core.ReminderID    `json:"reminder_id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	EventAt     time.Time          `json:"event_at"`
	Category    core.EventCategory `json:"category"`
	IsSnooze    bool               `json:"is_snooze"` // delivery prefixes the shown title
}

// AlarmService is the timer collaborator seam. Implementations arm a
// wake-capable one-shot timer keyed by a caller-stable key; exact timers
// are preferred, and an implementation that cannot get exact scheduling
// degrades to an inexact timer instead of erroring. Cancel by an unknown
// key is a no-op.
type AlarmService interface {
	Arm(fireAt time.Time, key string, payload Payload) error
	Cancel(key string)
}

// ReminderSource supplies the reminders to re-arm on cold start.
type ReminderSource interface {
	GetUpcoming(now time.Time) ([]*core.Reminder, error)
}

// Dismisser removes a delivered notification, so a snooze does not leave
// the old banner up while the new timer runs. Optional.
type Dismisser interface {
	Dismiss(id core.ReminderID)
}

// Config for the scheduler
type Config struct {
	Lead   time.Duration
	Snooze time.Duration
}

// Scheduler is the reminder timing state machine. Safe for concurrent use
// across distinct reminder ids; all shared state lives in the alarm
// collaborator, keyed per reminder.
type Scheduler struct {
	alarms    AlarmService
	reminders ReminderSource
	dismisser Dismisser

	lead   time.Duration
	snooze time.Duration

	// now is injectable for tests
	now func() time.Time
}

// New creates a scheduler over the given alarm collaborator. reminders and
// dismisser are optional; without reminders, RescheduleAll is a no-op.
func New(alarms AlarmService, reminders ReminderSource, dismisser Dismisser, cfg Config) *Scheduler {
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	if cfg.Snooze <= 0 {
		cfg.Snooze = DefaultSnooze
	}

	return &Scheduler{
		alarms:    alarms,
		reminders: reminders,
		dismisser: dismisser,
		lead:      cfg.Lead,
		snooze:    cfg.Snooze,
		now:       time.Now,
	}
}

// alarmKey derives the stable timer key for a reminder.
func alarmKey(id core.ReminderID) string {
	return "reminder-" + string(id)
}

// Schedule arms a one-shot alarm at the reminder's event time minus the
// lead. A notify-at already in the past is skipped and logged, not an
// error. Returns whether an alarm was armed.
func (s *Scheduler) Schedule(r *core.Reminder) bool {
	notifyAt := r.EventAt.Add(-s.lead)
	if !notifyAt.After(s.now()) {
		logging.Info("skipping past reminder %s (%s): notify-at %s already passed",
			r.ID, r.Title, notifyAt.Format(time.RFC3339))
		return false
	}

	payload := Payload{
		ReminderID:  r.ID,
		Title:       r.Title,
		Description: r.Description,
		EventAt:     r.EventAt,
		Category:    r.Category,
	}

	if err := s.alarms.Arm(notifyAt, alarmKey(r.ID), payload); err != nil {
		logging.Error("failed to arm reminder %s: %v", r.ID, err)
		return false
	}

	logging.Debug("armed reminder %s for %s", r.ID, notifyAt.Format(time.RFC3339))
	return true
}

// Snooze dismisses the delivered notification and re-arms the reminder at
// now plus the snooze delay, flagged so delivery prefixes the title.
func (s *Scheduler) Snooze(r *core.Reminder) bool {
	key := alarmKey(r.ID)
	s.alarms.Cancel(key)
	if s.dismisser != nil {
		s.dismisser.Dismiss(r.ID)
	}

	fireAt := s.now().Add(s.snooze)
	payload := Payload{
		ReminderID:  r.ID,
		Title:       r.Title,
		Description: r.Description,
		EventAt:     r.EventAt,
		Category:    r.Category,
		IsSnooze:    true,
	}

	if err := s.alarms.Arm(fireAt, key, payload); err != nil {
		logging.Error("failed to arm snooze for reminder %s: %v", r.ID, err)
		return false
	}

	logging.Debug("snoozed reminder %s until %s", r.ID, fireAt.Format(time.RFC3339))
	return true
}

// Cancel removes any pending alarm for the reminder. Idempotent.
func (s *Scheduler) Cancel(id core.ReminderID) {
	s.alarms.Cancel(alarmKey(id))
	if s.dismisser != nil {
		s.dismisser.Dismiss(id)
	}
}

// RescheduleAll re-arms every upcoming, non-completed reminder from the
// store. This is the sole recovery path after a restart: armed timers do
// not survive the process. Reminders are armed sequentially; past-due ones
// are skipped per Schedule. Returns how many alarms were armed.
func (s *Scheduler) RescheduleAll() (int, error) {
	if s.reminders == nil {
		return 0, nil
	}

	upcoming, err := s.reminders.GetUpcoming(s.now())
	if err != nil {
		return 0, fmt.Errorf("loading upcoming reminders: %w", err)
	}

	armed := 0
	for _, r := range upcoming {
		if s.Schedule(r) {
			armed++
		}
	}

	logging.Info("rescheduled %d/%d upcoming reminders", armed, len(upcoming))
	return armed, nil
}
