// Package storage provides persistence for chatmind.
package storage

import (
	"database/sql"
	"time"

	"github.com/chatmind/chatmind/internal/core"
)

// ReminderStore handles reminder persistence
type ReminderStore struct {
	db *DB
}

// NewReminderStore creates a new reminder store
func NewReminderStore(db *DB) *ReminderStore {
	return &ReminderStore{db: db}
}

// Create creates a new reminder
func (s *ReminderStore) Create(r *core.Reminder) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.conn.Exec(`
		INSERT INTO reminders (
		    id, owner, title, description, event_at, notify_at,
		    category, provenance, completed, notified, color,
		    created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Owner, r.Title, r.Description, r.EventAt, r.NotifyAt,
		r.Category, r.Provenance, r.Completed, r.Notified, r.Color,
		r.CreatedAt, r.UpdatedAt,
	)

	return err
}

// GetByID returns a reminder by ID
func (s *ReminderStore) GetByID(id core.ReminderID) (*core.Reminder, error) {
	r := &core.Reminder{}

	err := s.db.conn.QueryRow(`
		SELECT id, owner, title, description, event_at, notify_at,
		       category, provenance, completed, notified, color,
		       created_at, updated_at
		FROM reminders WHERE id = ?
	`, id).Scan(
		&r.ID, &r.Owner, &r.Title, &r.Description, &r.EventAt, &r.NotifyAt,
		&r.Category, &r.Provenance, &r.Completed, &r.Notified, &r.Color,
		&r.CreatedAt, &r.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrReminderNotFound
	}
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Update updates a reminder
func (s *ReminderStore) Update(r *core.Reminder) error {
	r.UpdatedAt = time.Now().UTC()

	res, err := s.db.conn.Exec(`
		UPDATE reminders SET
		    title = ?, description = ?, event_at = ?, notify_at = ?,
		    category = ?, completed = ?, notified = ?, color = ?, updated_at = ?
		WHERE id = ?
	`,
		r.Title, r.Description, r.EventAt, r.NotifyAt,
		r.Category, r.Completed, r.Notified, r.Color, r.UpdatedAt,
		r.ID,
	)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return core.ErrReminderNotFound
	}
	return nil
}

// MarkCompleted marks a reminder done
func (s *ReminderStore) MarkCompleted(id core.ReminderID) error {
	res, err := s.db.conn.Exec(`
		UPDATE reminders SET completed = TRUE, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return core.ErrReminderNotFound
	}
	return nil
}

// MarkNotified records that a reminder's notification was delivered
func (s *ReminderStore) MarkNotified(id core.ReminderID) error {
	res, err := s.db.conn.Exec(`
		UPDATE reminders SET notified = TRUE, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return core.ErrReminderNotFound
	}
	return nil
}

// GetUpcoming returns non-completed reminders whose event is at or after
// now, soonest first. This is the reschedule-on-restart query.
func (s *ReminderStore) GetUpcoming(now time.Time) ([]*core.Reminder, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, owner, title, description, event_at, notify_at,
		       category, provenance, completed, notified, color,
		       created_at, updated_at
		FROM reminders
		WHERE completed = FALSE AND event_at >= ?
		ORDER BY event_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanReminders(rows)
}

// GetByDate returns all reminders whose event falls on the same calendar
// day as t, in t's location. Used by the conflict check.
func (s *ReminderStore) GetByDate(t time.Time) ([]*core.Reminder, error) {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := s.db.conn.Query(`
		SELECT id, owner, title, description, event_at, notify_at,
		       category, provenance, completed, notified, color,
		       created_at, updated_at
		FROM reminders
		WHERE completed = FALSE AND event_at >= ? AND event_at < ?
		ORDER BY event_at ASC
	`, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanReminders(rows)
}

// List returns reminders, newest event first
func (s *ReminderStore) List(limit int) ([]*core.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.conn.Query(`
		SELECT id, owner, title, description, event_at, notify_at,
		       category, provenance, completed, notified, color,
		       created_at, updated_at
		FROM reminders
		ORDER BY event_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanReminders(rows)
}

func (s *ReminderStore) scanReminders(rows *sql.Rows) ([]*core.Reminder, error) {
	var reminders []*core.Reminder

	for rows.Next() {
		r := &core.Reminder{}
		err := rows.Scan(
			&r.ID, &r.Owner, &r.Title, &r.Description, &r.EventAt, &r.NotifyAt,
			&r.Category, &r.Provenance, &r.Completed, &r.Notified, &r.Color,
			&r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}

	return reminders, rows.Err()
}

// Count returns total reminder count
func (s *ReminderStore) Count() (int, error) {
	var count int
	err := s.db.conn.QueryRow("SELECT COUNT(*) FROM reminders").Scan(&count)
	return count, err
}
