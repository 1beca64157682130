// Package convstore implements the conversation store for chatmind.
package convstore

import "github.com/chatmind/chatmind/internal/core"

// EventType names a store mutation.
type EventType string

const (
	EventMessageAdded        EventType = "message_added"
	EventMessageUpdated      EventType = "message_updated"
	EventMessageDeleted      EventType = "message_deleted"
	EventConversationUpdated EventType = "conversation_updated"
	EventConversationRead    EventType = "conversation_read"
	EventConversationDeleted EventType = "conversation_deleted"
)

// Event is emitted after every successful store mutation. Persistence and
// real-time push both subscribe to these instead of being called from inside
// the mutation itself.
type Event struct {
	Type           EventType            `json:"type"`
	ConversationID core.ConversationID  `json:"conversation_id"`
	Hash           string               `json:"hash,omitempty"`
	Conversation   *core.Conversation   `json:"conversation,omitempty"`
	Message        *core.Message        `json:"message,omitempty"`
}

// Subscriber receives store events in real-time
type Subscriber interface {
	Send(event Event) error
	ID() string
}
