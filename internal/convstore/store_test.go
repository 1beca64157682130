package convstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chatmind/chatmind/internal/core"
)

// mockSubscriber implements Subscriber for testing
type mockSubscriber struct {
	id     string
	mu     sync.Mutex
	events []Event
}

func newMockSubscriber(id string) *mockSubscriber {
	return &mockSubscriber{id: id}
}

func (m *mockSubscriber) Send(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockSubscriber) ID() string { return m.id }

func (m *mockSubscriber) received() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// waitFor polls until cond is true or the deadline passes. Broadcast is
// asynchronous, so event assertions need to wait.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func incomingEvent(sender, text string, ts time.Time) core.RawEvent {
	return core.RawEvent{
		SourceApp: core.SourceWhatsApp,
		Title:     sender,
		Text:      text,
		Timestamp: ts,
		Extras:    map[string]string{core.ExtraThreadKey: "thread-1"},
	}
}

func outgoingEvent(text string, ts time.Time) core.RawEvent {
	return core.RawEvent{
		SourceApp: core.SourceWhatsApp,
		Title:     core.SelfSender,
		Text:      text,
		Timestamp: ts,
		Extras:    map[string]string{core.ExtraThreadKey: "thread-1"},
	}
}

func TestIngest_CreatesConversationAndMessage(t *testing.T) {
	s := New(Config{})

	ok := s.Ingest(incomingEvent("Alex", "hey there", time.Now()))
	if !ok {
		t.Fatal("expected ingest to accept")
	}

	convs := s.Conversations()
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].DisplayName != "Alex" {
		t.Errorf("expected display name Alex, got %q", convs[0].DisplayName)
	}
	if convs[0].Preview != "hey there" {
		t.Errorf("expected preview, got %q", convs[0].Preview)
	}
	if convs[0].UnreadCount != 1 {
		t.Errorf("expected unread 1, got %d", convs[0].UnreadCount)
	}
	if s.MessageCount() != 1 {
		t.Errorf("expected 1 message, got %d", s.MessageCount())
	}
}

func TestIngest_DedupIdempotence(t *testing.T) {
	s := New(Config{})
	ev := incomingEvent("Alex", "same message", time.Now())

	if !s.Ingest(ev) {
		t.Fatal("first ingest should accept")
	}
	if s.Ingest(ev) {
		t.Error("second ingest of identical event should be rejected")
	}
	if s.MessageCount() != 1 {
		t.Errorf("expected exactly 1 message, got %d", s.MessageCount())
	}
}

func TestIngest_ConcurrentDedup(t *testing.T) {
	s := New(Config{})
	ev := incomingEvent("Alex", "racy message", time.Now())

	var wg sync.WaitGroup
	accepted := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted <- s.Ingest(ev)
		}()
	}
	wg.Wait()
	close(accepted)

	count := 0
	for ok := range accepted {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly 1 accepted ingest, got %d", count)
	}
	if s.MessageCount() != 1 {
		t.Errorf("expected 1 stored message, got %d", s.MessageCount())
	}
}

func TestIngest_SummaryFiltering(t *testing.T) {
	s := New(Config{})

	rejected := []string{
		"2 messages",
		"2 new messages",
		"3 messages from 2 chats",
		"2 new messages from Alex",
		"5 NEW MESSAGES",
	}
	for _, text := range rejected {
		ev := incomingEvent("WhatsApp", text, time.Now())
		if s.Ingest(ev) {
			t.Errorf("digest %q should be rejected", text)
		}
	}
	if s.MessageCount() != 0 {
		t.Errorf("digests must not create messages, got %d", s.MessageCount())
	}
	if len(s.Conversations()) != 0 {
		t.Error("digests must not create conversations")
	}

	// Not a pure digest pattern: counts inside real sentences pass through.
	accepted := []string{
		"John: 2 things to discuss",
		"I sent you 2 messages yesterday",
	}
	for _, text := range accepted {
		ev := incomingEvent("Alex", text, time.Now())
		if !s.Ingest(ev) {
			t.Errorf("message %q should be accepted", text)
		}
	}
}

func TestIngest_AttributionInvariant(t *testing.T) {
	s := New(Config{})
	base := time.Now()

	s.Ingest(incomingEvent("Alex", "first", base))
	s.Ingest(outgoingEvent("my reply", base.Add(time.Minute)))
	s.Ingest(incomingEvent("Alex Renamed", "second", base.Add(2*time.Minute)))
	s.Ingest(outgoingEvent("another reply", base.Add(3*time.Minute)))

	convs := s.Conversations()
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].DisplayName == core.SelfSender {
		t.Error("display name must never be the self sentinel")
	}
	if convs[0].DisplayName != "Alex Renamed" {
		t.Errorf("incoming message should update display name, got %q", convs[0].DisplayName)
	}
	// Outgoing messages still update preview/timestamp
	if convs[0].Preview != "another reply" {
		t.Errorf("outgoing message should update preview, got %q", convs[0].Preview)
	}
	if convs[0].UnreadCount != 2 {
		t.Errorf("only incoming messages bump unread, got %d", convs[0].UnreadCount)
	}
}

func TestIngest_OutgoingCreatesUnknownConversation(t *testing.T) {
	s := New(Config{})

	s.Ingest(outgoingEvent("starting a chat", time.Now()))

	convs := s.Conversations()
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].DisplayName != "Unknown" {
		t.Errorf("expected Unknown until an incoming message names the counterpart, got %q", convs[0].DisplayName)
	}
	if convs[0].UnreadCount != 0 {
		t.Errorf("outgoing message must not bump unread, got %d", convs[0].UnreadCount)
	}
}

func TestIngest_PerConversationRetention(t *testing.T) {
	cap := 5
	s := New(Config{MaxMessagesTotal: 100, MaxPerConversation: cap})
	base := time.Now()

	for i := 0; i <= cap; i++ {
		ev := incomingEvent("Alex", fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*time.Minute))
		if !s.Ingest(ev) {
			t.Fatalf("ingest %d rejected", i)
		}
	}

	convID := s.Conversations()[0].ID
	msgs := s.Context(convID, 0)
	if len(msgs) != cap {
		t.Fatalf("expected %d messages after eviction, got %d", cap, len(msgs))
	}
	if msgs[0].Text != "message 1" {
		t.Errorf("oldest message should be evicted, oldest is now %q", msgs[0].Text)
	}

	conv, _ := s.GetConversation(convID)
	if conv.Preview != fmt.Sprintf("message %d", cap) {
		t.Errorf("preview should match newest message, got %q", conv.Preview)
	}
}

func TestIngest_GlobalRetentionRemovesEmptyConversation(t *testing.T) {
	s := New(Config{MaxMessagesTotal: 2, MaxPerConversation: 10})
	base := time.Now()

	for i := 0; i < 3; i++ {
		s.Ingest(core.RawEvent{
			SourceApp: core.SourceTelegram,
			Title:     fmt.Sprintf("Sender %d", i),
			Text:      fmt.Sprintf("text %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Extras:    map[string]string{core.ExtraThreadKey: fmt.Sprintf("t-%d", i)},
		})
	}

	if s.MessageCount() != 2 {
		t.Errorf("expected global cap of 2, got %d", s.MessageCount())
	}
	// The single-message conversation holding the oldest message is gone
	// entirely.
	if got := len(s.Conversations()); got != 2 {
		t.Errorf("expected 2 surviving conversations, got %d", got)
	}
	for _, c := range s.Conversations() {
		if c.DisplayName == "Sender 0" {
			t.Error("conversation emptied by eviction should be removed")
		}
	}
}

func TestContext_ChronologicalWindow(t *testing.T) {
	s := New(Config{})
	base := time.Now()

	for i := 0; i < 6; i++ {
		s.Ingest(incomingEvent("Alex", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	convID := s.Conversations()[0].ID
	ctx := s.Context(convID, 3)
	if len(ctx) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(ctx))
	}
	for i, want := range []string{"m3", "m4", "m5"} {
		if ctx[i].Text != want {
			t.Errorf("position %d: expected %q, got %q", i, want, ctx[i].Text)
		}
	}
}

func TestContext_OutOfOrderDelivery(t *testing.T) {
	s := New(Config{})
	base := time.Now()

	s.Ingest(incomingEvent("Alex", "second", base.Add(time.Minute)))
	s.Ingest(incomingEvent("Alex", "first", base))

	convID := s.Conversations()[0].ID
	ctx := s.Context(convID, 0)
	if ctx[0].Text != "first" || ctx[1].Text != "second" {
		t.Errorf("context not chronological: %q then %q", ctx[0].Text, ctx[1].Text)
	}
}

func TestMarkRead(t *testing.T) {
	s := New(Config{})
	s.Ingest(incomingEvent("Alex", "unread me", time.Now()))
	convID := s.Conversations()[0].ID

	if !s.MarkRead(convID) {
		t.Fatal("expected mark read to succeed")
	}
	conv, _ := s.GetConversation(convID)
	if conv.UnreadCount != 0 {
		t.Errorf("expected unread 0, got %d", conv.UnreadCount)
	}

	if s.MarkRead("no-such-conversation") {
		t.Error("mark read on missing conversation should return false")
	}
}

func TestGeneratedReplyLifecycle(t *testing.T) {
	s := New(Config{})
	ev := incomingEvent("Alex", "can you make dinner?", time.Now())
	s.Ingest(ev)
	hash := ev.ContentHash()

	if !s.UpdateGeneratedReply(hash, "Sure, 7pm works") {
		t.Fatal("expected update to succeed")
	}
	msg, _ := s.GetMessage(hash)
	if msg.GeneratedReply != "Sure, 7pm works" {
		t.Errorf("unexpected reply %q", msg.GeneratedReply)
	}
	if msg.Sent {
		t.Error("reply should not be marked sent yet")
	}

	if !s.MarkSent(hash) {
		t.Fatal("expected mark sent to succeed")
	}
	msg, _ = s.GetMessage(hash)
	if !msg.Sent {
		t.Error("expected sent flag")
	}

	if s.UpdateGeneratedReply("missing", "x") {
		t.Error("update on missing hash should return false")
	}
	if s.MarkSent("missing") {
		t.Error("mark sent on missing hash should return false")
	}
}

func TestDeleteMessage_CascadesToConversation(t *testing.T) {
	s := New(Config{})
	base := time.Now()

	first := incomingEvent("Alex", "first", base)
	second := incomingEvent("Alex", "second", base.Add(time.Minute))
	s.Ingest(first)
	s.Ingest(second)
	convID := s.Conversations()[0].ID

	if !s.DeleteMessage(second.ContentHash()) {
		t.Fatal("expected delete to succeed")
	}
	conv, _ := s.GetConversation(convID)
	if conv.Preview != "first" {
		t.Errorf("preview should be recomputed, got %q", conv.Preview)
	}

	if !s.DeleteMessage(first.ContentHash()) {
		t.Fatal("expected delete to succeed")
	}
	if _, ok := s.GetConversation(convID); ok {
		t.Error("conversation with no messages should be removed")
	}

	if s.DeleteMessage("missing") {
		t.Error("delete on missing hash should return false")
	}
}

func TestDeleteConversation(t *testing.T) {
	s := New(Config{})
	s.Ingest(incomingEvent("Alex", "one", time.Now()))
	s.Ingest(incomingEvent("Alex", "two", time.Now().Add(time.Minute)))
	convID := s.Conversations()[0].ID

	if !s.DeleteConversation(convID) {
		t.Fatal("expected delete to succeed")
	}
	if s.MessageCount() != 0 {
		t.Errorf("expected all messages removed, got %d", s.MessageCount())
	}
	if len(s.Conversations()) != 0 {
		t.Error("expected no conversations")
	}

	if s.DeleteConversation(convID) {
		t.Error("second delete should return false")
	}
}

func TestSubscriber_ReceivesIngestEvents(t *testing.T) {
	s := New(Config{})
	sub := newMockSubscriber("sub-1")
	s.Subscribe(sub)

	s.Ingest(incomingEvent("Alex", "hello", time.Now()))

	waitFor(t, func() bool { return len(sub.received()) >= 2 })

	var addedSeen, updatedSeen bool
	for _, ev := range sub.received() {
		switch ev.Type {
		case EventMessageAdded:
			addedSeen = true
			if ev.Message == nil || ev.Message.Text != "hello" {
				t.Error("message event should carry the message")
			}
		case EventConversationUpdated:
			updatedSeen = true
			if ev.Conversation == nil {
				t.Error("conversation event should carry the conversation")
			}
		}
	}
	if !addedSeen || !updatedSeen {
		t.Errorf("expected message_added and conversation_updated, got %+v", sub.received())
	}
}

func TestUnsubscribe(t *testing.T) {
	s := New(Config{})
	sub := newMockSubscriber("sub-1")
	s.Subscribe(sub)
	s.Unsubscribe("sub-1")

	s.Ingest(incomingEvent("Alex", "hello", time.Now()))
	time.Sleep(50 * time.Millisecond)

	if len(sub.received()) != 0 {
		t.Errorf("unsubscribed subscriber received %d events", len(sub.received()))
	}
}

func TestSubscriber_EventsArriveInEmissionOrder(t *testing.T) {
	s := New(Config{MaxPerConversation: 3, MaxMessagesTotal: 3})
	sub := newMockSubscriber("sub-1")
	s.Subscribe(sub)

	base := time.Now()
	var deleted int
	for i := 0; i < 12; i++ {
		s.Ingest(incomingEvent("Alex", fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Second)))
	}

	// 12 adds, 9 of which are later evicted.
	waitFor(t, func() bool {
		deleted = 0
		for _, ev := range sub.received() {
			if ev.Type == EventMessageDeleted {
				deleted++
			}
		}
		return deleted == 9
	})

	// A mirroring subscriber replays these into SQLite verbatim, so every
	// eviction must arrive after the insert it undoes.
	added := make(map[string]int)
	for i, ev := range sub.received() {
		switch ev.Type {
		case EventMessageAdded:
			added[ev.Hash] = i
		case EventMessageDeleted:
			at, ok := added[ev.Hash]
			if !ok {
				t.Fatalf("delete for %s arrived before its add", ev.Hash)
			}
			if at >= i {
				t.Fatalf("delete for %s at index %d not after add at %d", ev.Hash, i, at)
			}
		}
	}
}
