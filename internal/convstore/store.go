// Package convstore implements the conversation store: it deduplicates raw
// notifications, maintains the conversation and message tables, bounds
// memory, and answers read queries. The store is the authoritative state for
// the running session; durable persistence subscribes to its change events.
package convstore

import (
	"regexp"
	"sort"
	"sync"

	"github.com/chatmind/chatmind/internal/attribution"
	"github.com/chatmind/chatmind/internal/core"
	"github.com/chatmind/chatmind/internal/logging"
)

// Default retention caps, overridable via Config.
const (
	DefaultMaxMessagesTotal   = 500
	DefaultMaxPerConversation = 50
)

// digestPatterns match platform-generated aggregate notifications
// ("2 new messages", "3 messages from 2 chats"). These are whole-string
// tests: a real message that merely mentions a count must not match.
var digestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\d+ (new )?messages?$`),
	regexp.MustCompile(`(?i)^\d+ new messages? from .+$`),
	regexp.MustCompile(`(?i)^\d+ messages? from \d+ chats?$`),
}

// Config for the store
type Config struct {
	MaxMessagesTotal   int
	MaxPerConversation int
}

// Store owns all conversation and message state. A single mutex serializes
// mutations so dedup-check-then-insert is atomic under concurrent ingestion.
type Store struct {
	mu sync.Mutex

	conversations map[core.ConversationID]*core.Conversation
	order         []core.ConversationID // recency order, most recent first
	messages      map[string]*core.Message
	byConv        map[core.ConversationID][]*core.Message // chronological, oldest first
	total         int

	maxTotal   int
	maxPerConv int

	subMu       sync.RWMutex
	subscribers map[string]*subscription
}

// subscriberBuffer bounds each subscriber's delivery queue. A consumer that
// falls this far behind blocks mutations rather than losing or reordering a
// mirrored write.
const subscriberBuffer = 256

// subscription pairs a subscriber with its delivery queue. A single drain
// goroutine per subscriber keeps events in emission order.
type subscription struct {
	sub Subscriber
	ch  chan Event
}

// New creates a conversation store
func New(cfg Config) *Store {
	if cfg.MaxMessagesTotal <= 0 {
		cfg.MaxMessagesTotal = DefaultMaxMessagesTotal
	}
	if cfg.MaxPerConversation <= 0 {
		cfg.MaxPerConversation = DefaultMaxPerConversation
	}

	return &Store{
		conversations: make(map[core.ConversationID]*core.Conversation),
		messages:      make(map[string]*core.Message),
		byConv:        make(map[core.ConversationID][]*core.Message),
		maxTotal:      cfg.MaxMessagesTotal,
		maxPerConv:    cfg.MaxPerConversation,
		subscribers:   make(map[string]*subscription),
	}
}

// Subscribe adds a subscriber for store change events and starts its drain
// goroutine.
func (s *Store) Subscribe(sub Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	entry := &subscription{sub: sub, ch: make(chan Event, subscriberBuffer)}
	s.subscribers[sub.ID()] = entry
	go func() {
		for ev := range entry.ch {
			entry.sub.Send(ev)
		}
	}()
}

// Unsubscribe removes a subscriber and stops its drain goroutine. Holding
// the write lock excludes in-flight sends, so the close cannot race a
// broadcast.
func (s *Store) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if entry, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(entry.ch)
	}
}

// broadcast enqueues events onto every subscriber's delivery queue. Callers
// invoke it while still holding the store mutex so each subscriber observes
// mutations in the order they were applied; a syncer mirroring writes to
// disk cannot see a delete before the insert it follows.
func (s *Store) broadcast(events ...Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ev := range events {
		for _, entry := range s.subscribers {
			entry.ch <- ev
		}
	}
}

// Ingest processes one raw notification. It returns true when the event was
// accepted as a new message, false when it was rejected as a digest/summary
// notification or a duplicate.
func (s *Store) Ingest(e core.RawEvent) bool {
	if isDigest(e.Text) {
		logging.WithField("source", string(e.SourceApp)).Debug("rejected digest notification: %q", e.Text)
		return false
	}

	hash := e.ContentHash()
	res := attribution.Resolve(e.SourceApp, e.Title, e.SubText, e.Extras)

	threadKey := e.ThreadKey()
	if threadKey == "" {
		// No stable key from the source; fall back to the notification
		// fields. Less stable across edits, but deterministic.
		threadKey = e.Title + "|" + res.Speaker
	}
	convID := core.ConversationKey(e.SourceApp, threadKey)

	s.mu.Lock()

	if _, dup := s.messages[hash]; dup {
		s.mu.Unlock()
		return false
	}

	conv, ok := s.conversations[convID]
	if !ok {
		name := res.DisplayName
		if name == "" {
			// Conversation created by an outgoing message has no
			// counterpart name yet; the first incoming message sets it.
			name = "Unknown"
		}
		conv = &core.Conversation{
			ID:          convID,
			SourceApp:   e.SourceApp,
			DisplayName: name,
		}
		s.conversations[convID] = conv
	}

	conv.LastMessageAt = e.Timestamp
	conv.Preview = e.Text
	if !res.Outgoing {
		conv.UnreadCount++
		if res.DisplayName != "" {
			conv.DisplayName = res.DisplayName
		}
	}
	s.moveToFrontLocked(convID)

	msg := &core.Message{
		Hash:           hash,
		ConversationID: convID,
		Sender:         res.Speaker,
		Text:           e.Text,
		Timestamp:      e.Timestamp,
		Outgoing:       res.Outgoing,
		CanReply:       e.CanReply,
		ReplyHandle:    e.ReplyHandle,
	}
	s.messages[hash] = msg
	s.insertChronologicalLocked(convID, msg)
	s.total++

	events := []Event{
		{Type: EventMessageAdded, ConversationID: convID, Hash: hash, Message: copyMessage(msg)},
		{Type: EventConversationUpdated, ConversationID: convID, Conversation: copyConversation(conv)},
	}
	events = append(events, s.enforceRetentionLocked()...)

	s.broadcast(events...)
	s.mu.Unlock()
	return true
}

// Restore loads a conversation and its messages without emitting change
// events, so a write-behind subscriber does not mirror rows it just read.
// It is meant for startup hydration; call it from oldest conversation to
// most recent so the recency order comes out right.
func (s *Store) Restore(conv core.Conversation, msgs []core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := conv
	s.conversations[c.ID] = &c
	s.moveToFrontLocked(c.ID)

	for i := range msgs {
		m := msgs[i]
		if _, dup := s.messages[m.Hash]; dup {
			continue
		}
		s.messages[m.Hash] = &m
		s.insertChronologicalLocked(c.ID, &m)
		s.total++
	}
}

func isDigest(text string) bool {
	for _, p := range digestPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// moveToFrontLocked puts convID at the front of the recency order.
func (s *Store) moveToFrontLocked(convID core.ConversationID) {
	for i, id := range s.order {
		if id == convID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append([]core.ConversationID{convID}, s.order...)
}

// insertChronologicalLocked keeps the per-conversation slice ordered oldest
// first even when notifications arrive out of timestamp order.
func (s *Store) insertChronologicalLocked(convID core.ConversationID, msg *core.Message) {
	msgs := s.byConv[convID]
	idx := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].Timestamp.After(msg.Timestamp)
	})
	msgs = append(msgs, nil)
	copy(msgs[idx+1:], msgs[idx:])
	msgs[idx] = msg
	s.byConv[convID] = msgs
}

// enforceRetentionLocked applies the per-conversation and global caps,
// oldest first, and returns the events describing what was evicted.
func (s *Store) enforceRetentionLocked() []Event {
	var events []Event

	for convID, msgs := range s.byConv {
		for len(msgs) > s.maxPerConv {
			events = append(events, s.evictLocked(convID, msgs[0])...)
			msgs = s.byConv[convID]
		}
	}

	for s.total > s.maxTotal {
		convID, oldest := s.globallyOldestLocked()
		if oldest == nil {
			break
		}
		events = append(events, s.evictLocked(convID, oldest)...)
	}

	return events
}

func (s *Store) globallyOldestLocked() (core.ConversationID, *core.Message) {
	var oldest *core.Message
	var oldestConv core.ConversationID
	for convID, msgs := range s.byConv {
		if len(msgs) == 0 {
			continue
		}
		if oldest == nil || msgs[0].Timestamp.Before(oldest.Timestamp) {
			oldest = msgs[0]
			oldestConv = convID
		}
	}
	return oldestConv, oldest
}

// evictLocked removes one message and repairs the owning conversation's
// derived fields. A conversation left with no messages is removed entirely.
func (s *Store) evictLocked(convID core.ConversationID, msg *core.Message) []Event {
	events := []Event{{Type: EventMessageDeleted, ConversationID: convID, Hash: msg.Hash}}

	delete(s.messages, msg.Hash)
	msgs := s.byConv[convID]
	for i, m := range msgs {
		if m.Hash == msg.Hash {
			msgs = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	s.byConv[convID] = msgs
	s.total--

	conv := s.conversations[convID]
	if len(msgs) == 0 {
		delete(s.byConv, convID)
		delete(s.conversations, convID)
		for i, id := range s.order {
			if id == convID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		events = append(events, Event{Type: EventConversationDeleted, ConversationID: convID})
		return events
	}

	newest := msgs[len(msgs)-1]
	conv.Preview = newest.Text
	conv.LastMessageAt = newest.Timestamp
	events = append(events, Event{Type: EventConversationUpdated, ConversationID: convID, Conversation: copyConversation(conv)})
	return events
}

// Context returns the most recent limit messages for a conversation in
// chronological (oldest first) order, ready to feed a language model as a
// dialogue transcript.
func (s *Store) Context(convID core.ConversationID, limit int) []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.byConv[convID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}

// Conversations returns all conversations in recency order, most recent
// first.
func (s *Store) Conversations() []core.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Conversation, 0, len(s.order))
	for _, id := range s.order {
		if conv, ok := s.conversations[id]; ok {
			out = append(out, *conv)
		}
	}
	return out
}

// GetConversation returns one conversation by id
func (s *Store) GetConversation(convID core.ConversationID) (core.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[convID]
	if !ok {
		return core.Conversation{}, false
	}
	return *conv, true
}

// GetMessage returns one message by content hash
func (s *Store) GetMessage(hash string) (core.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[hash]
	if !ok {
		return core.Message{}, false
	}
	return *msg, true
}

// MessageCount returns the number of stored messages
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// MarkRead resets a conversation's unread counter. Returns false if the
// conversation does not exist.
func (s *Store) MarkRead(convID core.ConversationID) bool {
	s.mu.Lock()

	conv, ok := s.conversations[convID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	conv.UnreadCount = 0
	s.broadcast(Event{Type: EventConversationRead, ConversationID: convID, Conversation: copyConversation(conv)})

	s.mu.Unlock()
	return true
}

// UpdateGeneratedReply stores an AI-generated reply on a message. Returns
// false if no message has that hash.
func (s *Store) UpdateGeneratedReply(hash, reply string) bool {
	s.mu.Lock()

	msg, ok := s.messages[hash]
	if !ok {
		s.mu.Unlock()
		return false
	}
	msg.GeneratedReply = reply
	s.broadcast(Event{Type: EventMessageUpdated, ConversationID: msg.ConversationID, Hash: hash, Message: copyMessage(msg)})

	s.mu.Unlock()
	return true
}

// MarkSent flags a message's generated reply as transmitted. Returns false
// if no message has that hash.
func (s *Store) MarkSent(hash string) bool {
	s.mu.Lock()

	msg, ok := s.messages[hash]
	if !ok {
		s.mu.Unlock()
		return false
	}
	msg.Sent = true
	s.broadcast(Event{Type: EventMessageUpdated, ConversationID: msg.ConversationID, Hash: hash, Message: copyMessage(msg)})

	s.mu.Unlock()
	return true
}

// DeleteMessage removes one message, repairing the owning conversation as
// for retention eviction. Returns false if no message has that hash.
func (s *Store) DeleteMessage(hash string) bool {
	s.mu.Lock()

	msg, ok := s.messages[hash]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.broadcast(s.evictLocked(msg.ConversationID, msg)...)

	s.mu.Unlock()
	return true
}

// DeleteConversation removes a conversation and all its messages. Returns
// false if the conversation does not exist.
func (s *Store) DeleteConversation(convID core.ConversationID) bool {
	s.mu.Lock()

	if _, ok := s.conversations[convID]; !ok {
		s.mu.Unlock()
		return false
	}

	for _, msg := range s.byConv[convID] {
		delete(s.messages, msg.Hash)
		s.total--
	}
	delete(s.byConv, convID)
	delete(s.conversations, convID)
	for i, id := range s.order {
		if id == convID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.broadcast(Event{Type: EventConversationDeleted, ConversationID: convID})

	s.mu.Unlock()
	return true
}

func copyConversation(c *core.Conversation) *core.Conversation {
	dup := *c
	return &dup
}

func copyMessage(m *core.Message) *core.Message {
	dup := *m
	return &dup
}
