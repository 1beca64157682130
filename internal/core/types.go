// Package core defines the fundamental types for chatmind.
// These types are shared by every other package in the system.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SelfSender is the sentinel speaker label for outgoing messages.
// Conversation display names must never take this value.
const SelfSender = "You"

// -----------------------------------------------------------------------------
// SOURCE APP - where a notification came from
// -----------------------------------------------------------------------------

// SourceApp identifies the messaging app that produced a notification.
type SourceApp string

const (
	SourceWhatsApp  SourceApp = "com.whatsapp"
	SourceTelegram  SourceApp = "org.telegram.messenger"
	SourceInstagram SourceApp = "com.instagram.android"
	SourceSignal    SourceApp = "org.thoughtcrime.securesms"
	SourceUnknown   SourceApp = "unknown"
)

// Extras keys a notification source may supply alongside a RawEvent.
const (
	ExtraSelfDisplayName = "self_display_name" // the user's own handle/name in the source app
	ExtraThreadKey       = "thread_key"        // stable per-thread key, if the source has one
)

// -----------------------------------------------------------------------------
// RAW EVENT - an unprocessed notification
// -----------------------------------------------------------------------------

// RawEvent is a single notification as delivered by the notification source,
// before dedup and sender attribution. It is immutable: created by the
// source, consumed once by ingestion.
type RawEvent struct {
	SourceApp   SourceApp         `json:"source_app"`
	Title       string            `json:"title"`
	Text        string            `json:"text"`
	SubText     string            `json:"sub_text,omitempty"` // sender hint on some apps
	Timestamp   time.Time         `json:"timestamp"`
	CanReply    bool              `json:"can_reply"`
	ReplyHandle string            `json:"reply_handle,omitempty"` // opaque, passed back to the reply channel
	Extras      map[string]string `json:"extras,omitempty"`
}

// ContentHash returns the dedup key for this event: a hash over
// (title, text, source app). Two notifications with the same hash are the
// same message.
func (e RawEvent) ContentHash() string {
	h := sha256.Sum256([]byte(e.Title + "\x00" + e.Text + "\x00" + string(e.SourceApp)))
	return hex.EncodeToString(h[:16])
}

// ThreadKey returns the source-provided stable thread key, or "" if the
// source did not supply one.
func (e RawEvent) ThreadKey() string {
	return e.Extras[ExtraThreadKey]
}

// -----------------------------------------------------------------------------
// CONVERSATION - a persistent thread
// -----------------------------------------------------------------------------

// ConversationID is a type-safe identifier for conversations.
type ConversationID string

// ConversationKey derives the deterministic conversation id for a
// (source app, thread key) pair. When the source has no stable thread key
// the counterpart display name is used instead, which is less stable
// across edits but the best available.
func ConversationKey(app SourceApp, threadKey string) ConversationID {
	h := sha256.Sum256([]byte(string(app) + "|" + threadKey))
	return ConversationID(hex.EncodeToString(h[:12]))
}

// Conversation is a chat thread with one counterpart.
type Conversation struct {
	ID            ConversationID `json:"id"`
	SourceApp     SourceApp      `json:"source_app"`
	DisplayName   string         `json:"display_name"` // the other party, never SelfSender
	LastMessageAt time.Time      `json:"last_message_at"`
	Preview       string         `json:"preview"` // text of the newest message
	UnreadCount   int            `json:"unread_count"`
}

// -----------------------------------------------------------------------------
// MESSAGE - one attributed chat line
// -----------------------------------------------------------------------------

// Message is one deduplicated, attributed chat line. Its identity is the
// content hash of the RawEvent it came from.
type Message struct {
	Hash           string         `json:"hash"`
	ConversationID ConversationID `json:"conversation_id"`
	Sender         string         `json:"sender"` // SelfSender or the other party's name
	Text           string         `json:"text"`
	Timestamp      time.Time      `json:"timestamp"`
	Outgoing       bool           `json:"outgoing"`
	CanReply       bool           `json:"can_reply"`
	ReplyHandle    string         `json:"reply_handle,omitempty"`
	GeneratedReply string         `json:"generated_reply,omitempty"` // empty until AI fills it
	Sent           bool           `json:"sent"`                      // generated reply was transmitted
}

// -----------------------------------------------------------------------------
// EVENT CATEGORY & PROVENANCE
// -----------------------------------------------------------------------------

// EventCategory classifies what kind of event a reminder is for.
type EventCategory string

// Categories in classification priority order: when keywords from several
// families appear, the first family in this order wins. The order is policy,
// not accident, and keeps classification deterministic.
const (
	CategoryMeeting  EventCategory = "meeting"
	CategoryWork     EventCategory = "work"
	CategoryHealth   EventCategory = "health"
	CategorySports   EventCategory = "sports"
	CategorySocial   EventCategory = "social"
	CategoryReminder EventCategory = "reminder"
	CategoryPersonal EventCategory = "personal"
	CategoryOther    EventCategory = "other"
)

// KnownCategory reports whether s is one of the defined categories.
func KnownCategory(s string) bool {
	switch EventCategory(s) {
	case CategoryMeeting, CategoryWork, CategoryHealth, CategorySports,
		CategorySocial, CategoryReminder, CategoryPersonal, CategoryOther:
		return true
	}
	return false
}

// Provenance records how a reminder came to exist.
type Provenance string

const (
	ProvenanceManual    Provenance = "manual"
	ProvenanceChat      Provenance = "chat_detected"
	ProvenanceCompanion Provenance = "ai_companion"
	ProvenanceCalendar  Provenance = "calendar_import"
)

// -----------------------------------------------------------------------------
// DETECTED INTENT - a candidate event awaiting confirmation
// -----------------------------------------------------------------------------

// DetectedIntent is an unconfirmed, extracted candidate event. It lives only
// between detection and the user's confirm/discard decision.
type DetectedIntent struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	When           *time.Time     `json:"when"` // nil means no usable time found
	Category       EventCategory  `json:"category"`
	Confidence     float64        `json:"confidence"` // 0..1
	SourceText     string         `json:"source_text"`
	Provenance     Provenance     `json:"provenance"`
	ConversationID ConversationID `json:"conversation_id,omitempty"`
	MatchedText    string         `json:"matched_text,omitempty"` // raw date/time substring
	HasConflict    bool           `json:"has_conflict"`
	Conflicts      []*Reminder    `json:"conflicts,omitempty"`
}

// -----------------------------------------------------------------------------
// REMINDER - a confirmed schedulable event
// -----------------------------------------------------------------------------

// ReminderID is a type-safe identifier for reminders.
type ReminderID string

// Reminder is a confirmed, durable schedulable event.
type Reminder struct {
	ID          ReminderID    `json:"id"`
	Owner       string        `json:"owner"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	EventAt     time.Time     `json:"event_at"`
	NotifyAt    time.Time     `json:"notify_at"` // EventAt minus the lead duration
	Category    EventCategory `json:"category"`
	Provenance  Provenance    `json:"provenance"`
	Completed   bool          `json:"completed"`
	Notified    bool          `json:"notified"`
	Color       string        `json:"color,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
