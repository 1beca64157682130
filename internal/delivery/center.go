// Package delivery turns fired alarms into user-visible reminder
// notifications and handles the mark-done and snooze actions those
// notifications carry.
package delivery

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatmind/chatmind/internal/core"
	"github.com/chatmind/chatmind/internal/logging"
	"github.com/chatmind/chatmind/internal/scheduler"
)

// Action names carried on a reminder notification.
const (
	ActionMarkDone = "mark_done"
	ActionSnooze   = "snooze"
)

// snoozePrefix marks a re-fired notification's title.
const snoozePrefix = "Snoozed: "

// Notification is a fired reminder as shown to the user.
type Notification struct {
	ID          string             `json:"id"`
	ReminderID  core.ReminderID    `json:"reminder_id"`
	Title       string             `json:"title"`
	Body        string             `json:"body,omitempty"`
	Category    core.EventCategory `json:"category"`
	EventAt     time.Time          `json:"event_at"`
	IsSnooze    bool               `json:"is_snooze"`
	Actions     []string           `json:"actions"`
	DeliveredAt time.Time          `json:"delivered_at"`
}

// Subscriber receives fired-reminder notifications in real time.
type Subscriber interface {
	Send(n Notification) error
	ID() string
}

// ReminderStore is the durable-state collaborator for the action handlers.
type ReminderStore interface {
	GetByID(id core.ReminderID) (*core.Reminder, error)
	MarkCompleted(id core.ReminderID) error
	MarkNotified(id core.ReminderID) error
}

// Timers is the slice of the scheduler the action handlers need.
type Timers interface {
	Snooze(r *core.Reminder) bool
	Cancel(id core.ReminderID)
}

// Center builds and broadcasts reminder notifications. Firing is
// idempotent per reminder id: an alarm that fires twice while its
// notification is still up delivers once.
type Center struct {
	reminders ReminderStore
	timers    Timers

	mu          sync.RWMutex
	subscribers map[string]Subscriber
	active      map[core.ReminderID]*Notification
}

// NewCenter creates a delivery center. timers may be set later via
// SetTimers to break the construction cycle with the scheduler.
func NewCenter(reminders ReminderStore) *Center {
	return &Center{
		reminders:   reminders,
		subscribers: make(map[string]Subscriber),
		active:      make(map[core.ReminderID]*Notification),
	}
}

// SetTimers wires the scheduler in after construction.
func (c *Center) SetTimers(t Timers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = t
}

// Subscribe adds a real-time subscriber.
func (c *Center) Subscribe(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber.
func (c *Center) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, id)
}

// HandleFire is the scheduler.FireFunc endpoint: it builds the
// notification for a fired alarm and broadcasts it. A duplicate firing for
// a reminder whose notification is still active is dropped.
func (c *Center) HandleFire(p scheduler.Payload) {
	title := p.Title
	if p.IsSnooze {
		title = snoozePrefix + title
	}

	n := &Notification{
		ID:          uuid.New().String(),
		ReminderID:  p.ReminderID,
		Title:       title,
		Body:        p.Description,
		Category:    p.Category,
		EventAt:     p.EventAt,
		IsSnooze:    p.IsSnooze,
		Actions:     []string{ActionMarkDone, ActionSnooze},
		DeliveredAt: time.Now().UTC(),
	}

	c.mu.Lock()
	if _, dup := c.active[p.ReminderID]; dup {
		c.mu.Unlock()
		logging.Debug("dropping duplicate firing for reminder %s", p.ReminderID)
		return
	}
	c.active[p.ReminderID] = n
	c.mu.Unlock()

	if c.reminders != nil {
		if err := c.reminders.MarkNotified(p.ReminderID); err != nil {
			logging.Warn("failed to mark reminder %s notified: %v", p.ReminderID, err)
		}
	}

	c.broadcast(*n)
	logging.Info("delivered reminder %s (%s)", p.ReminderID, title)
}

// broadcast sends the notification to every subscriber without holding up
// the firing path.
func (c *Center) broadcast(n Notification) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, sub := range c.subscribers {
		go func(subscriber Subscriber) {
			if err := subscriber.Send(n); err != nil {
				logging.Debug("subscriber %s dropped notification: %v", subscriber.ID(), err)
			}
		}(sub)
	}
}

// Dismiss removes the active notification for a reminder. Implements the
// scheduler's Dismisser so a snooze or cancel clears the old banner and
// lets the next firing deliver again.
func (c *Center) Dismiss(id core.ReminderID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}

// Active returns the currently delivered, undismissed notifications.
func (c *Center) Active() []Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Notification, 0, len(c.active))
	for _, n := range c.active {
		out = append(out, *n)
	}
	return out
}

// MarkDone is the terminal action: cancel any future firing, mark the
// reminder completed, drop the notification.
func (c *Center) MarkDone(id core.ReminderID) error {
	if c.timers != nil {
		c.timers.Cancel(id)
	}
	c.Dismiss(id)

	if c.reminders == nil {
		return nil
	}
	if err := c.reminders.MarkCompleted(id); err != nil {
		return err
	}
	logging.Info("reminder %s marked done", id)
	return nil
}

// Snooze re-arms the reminder and drops the current notification.
func (c *Center) Snooze(id core.ReminderID) error {
	if c.reminders == nil || c.timers == nil {
		return core.ErrReminderNotFound
	}

	r, err := c.reminders.GetByID(id)
	if err != nil {
		return err
	}

	c.timers.Snooze(r)
	return nil
}
