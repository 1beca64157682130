// Package syncer bridges the in-memory conversation store to durable
// storage. It subscribes to store change events and mirrors each mutation
// into SQLite, fire-and-forget: a failed write is logged and dropped, never
// retried here and never surfaced to the mutation path.
package syncer

import (
	"github.com/google/uuid"

	"github.com/chatmind/chatmind/internal/convstore"
	"github.com/chatmind/chatmind/internal/core"
	"github.com/chatmind/chatmind/internal/logging"
	"github.com/chatmind/chatmind/internal/storage"
)

// Hydrate rebuilds the in-memory store from durable storage, most recent
// conversations winning the recency order. Run it before subscribing the
// syncer so replayed rows are not mirrored straight back out. Returns the
// number of conversations restored.
func Hydrate(durable *storage.ConversationStore, mem *convstore.Store, maxConversations, maxPerConversation int) (int, error) {
	convs, err := durable.ListConversations(maxConversations)
	if err != nil {
		return 0, err
	}

	// ListConversations is most recent first; restore in reverse so the
	// newest conversation ends up at the front.
	for i := len(convs) - 1; i >= 0; i-- {
		conv := convs[i]
		msgs, err := durable.GetMessages(conv.ID, maxPerConversation)
		if err != nil {
			logging.WithField("conversation", string(conv.ID)).Error("hydration read failed: %v", err)
			continue
		}
		restored := make([]core.Message, len(msgs))
		for j, m := range msgs {
			restored[j] = *m
		}
		mem.Restore(*conv, restored)
	}

	return len(convs), nil
}

// Syncer mirrors conversation store events into durable storage
type Syncer struct {
	id    string
	store *storage.ConversationStore
}

// New creates a syncer. Attach it with store.Subscribe(syncer).
func New(store *storage.ConversationStore) *Syncer {
	return &Syncer{
		id:    "syncer-" + uuid.New().String(),
		store: store,
	}
}

// ID implements convstore.Subscriber
func (s *Syncer) ID() string {
	return s.id
}

// Send implements convstore.Subscriber. It always returns nil: persistence
// failures must not feed back into the store.
func (s *Syncer) Send(ev convstore.Event) error {
	var err error

	switch ev.Type {
	case convstore.EventMessageAdded, convstore.EventMessageUpdated:
		if ev.Message != nil {
			err = s.store.UpsertMessage(ev.Message)
		}
	case convstore.EventConversationUpdated, convstore.EventConversationRead:
		if ev.Conversation != nil {
			err = s.store.UpsertConversation(ev.Conversation)
		}
	case convstore.EventMessageDeleted:
		err = s.store.DeleteMessage(ev.Hash)
	case convstore.EventConversationDeleted:
		err = s.store.DeleteConversation(ev.ConversationID)
	}

	if err != nil {
		logging.WithFields(map[string]interface{}{
			"event":        string(ev.Type),
			"conversation": string(ev.ConversationID),
		}).Error("sync write failed: %v", err)
	}
	return nil
}
