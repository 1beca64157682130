// Package storage provides persistence for chatmind.
package storage

import (
	"database/sql"
	"time"

	"github.com/chatmind/chatmind/internal/core"
)

// ConversationStore handles durable conversation and message persistence.
// The in-memory store is authoritative for the running session; this store
// is the write-behind collaborator fed by the sync subscriber.
type ConversationStore struct {
	db *DB
}

// NewConversationStore creates a new conversation store
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// UpsertConversation creates or replaces a conversation row
func (s *ConversationStore) UpsertConversation(c *core.Conversation) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO conversations (id, source_app, display_name, last_message_at, preview, unread_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    display_name = excluded.display_name,
		    last_message_at = excluded.last_message_at,
		    preview = excluded.preview,
		    unread_count = excluded.unread_count
	`, c.ID, c.SourceApp, c.DisplayName, c.LastMessageAt, c.Preview, c.UnreadCount)

	return err
}

// UpsertMessage creates or replaces a message row. Change events arrive
// concurrently, so the owning conversation row may not exist yet; a stub is
// inserted first to satisfy the foreign key and is filled in by the
// conversation's own upsert.
func (s *ConversationStore) UpsertMessage(m *core.Message) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO conversations (id, source_app, display_name)
		VALUES (?, '', 'Unknown')
		ON CONFLICT(id) DO NOTHING
	`, m.ConversationID)
	if err != nil {
		return err
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO messages (hash, conversation_id, sender, text, timestamp, outgoing, can_reply, reply_handle, generated_reply, sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
		    generated_reply = excluded.generated_reply,
		    sent = excluded.sent
	`, m.Hash, m.ConversationID, m.Sender, m.Text, m.Timestamp, m.Outgoing, m.CanReply, m.ReplyHandle, m.GeneratedReply, m.Sent)

	return err
}

// DeleteMessage removes a message row
func (s *ConversationStore) DeleteMessage(hash string) error {
	_, err := s.db.conn.Exec("DELETE FROM messages WHERE hash = ?", hash)
	return err
}

// DeleteConversation removes a conversation and, via the foreign key
// cascade, all its messages
func (s *ConversationStore) DeleteConversation(id core.ConversationID) error {
	_, err := s.db.conn.Exec("DELETE FROM conversations WHERE id = ?", id)
	return err
}

// GetConversation returns one conversation by id
func (s *ConversationStore) GetConversation(id core.ConversationID) (*core.Conversation, error) {
	c := &core.Conversation{}
	var lastMessageAt sql.NullTime

	err := s.db.conn.QueryRow(`
		SELECT id, source_app, display_name, last_message_at, preview, unread_count
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &c.SourceApp, &c.DisplayName, &lastMessageAt, &c.Preview, &c.UnreadCount)

	if err == sql.ErrNoRows {
		return nil, core.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastMessageAt.Valid {
		c.LastMessageAt = lastMessageAt.Time
	}
	return c, nil
}

// ListConversations returns conversations by recency
func (s *ConversationStore) ListConversations(limit int) ([]*core.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.conn.Query(`
		SELECT id, source_app, display_name, last_message_at, preview, unread_count
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*core.Conversation
	for rows.Next() {
		c := &core.Conversation{}
		var lastMessageAt sql.NullTime

		if err := rows.Scan(&c.ID, &c.SourceApp, &c.DisplayName, &lastMessageAt, &c.Preview, &c.UnreadCount); err != nil {
			return nil, err
		}
		if lastMessageAt.Valid {
			c.LastMessageAt = lastMessageAt.Time
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}

// GetMessages returns a conversation's messages in chronological order
func (s *ConversationStore) GetMessages(id core.ConversationID, limit int) ([]*core.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.conn.Query(`
		SELECT hash, conversation_id, sender, text, timestamp, outgoing, can_reply, reply_handle, generated_reply, sent
		FROM (
		    SELECT * FROM messages
		    WHERE conversation_id = ?
		    ORDER BY timestamp DESC
		    LIMIT ?
		)
		ORDER BY timestamp ASC
	`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*core.Message
	for rows.Next() {
		m := &core.Message{}
		var ts time.Time

		if err := rows.Scan(&m.Hash, &m.ConversationID, &m.Sender, &m.Text, &ts, &m.Outgoing, &m.CanReply, &m.ReplyHandle, &m.GeneratedReply, &m.Sent); err != nil {
			return nil, err
		}
		m.Timestamp = ts
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// CountMessages returns the total persisted message count
func (s *ConversationStore) CountMessages() (int, error) {
	var count int
	err := s.db.conn.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count)
	return count, err
}
