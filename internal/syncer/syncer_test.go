package syncer

import (
	"testing"
	"time"

	"github.com/chatmind/chatmind/internal/convstore"
	"github.com/chatmind/chatmind/internal/core"
	"github.com/chatmind/chatmind/internal/storage"
)

func createTestSyncer(t *testing.T) (*Syncer, *storage.ConversationStore) {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	store := storage.NewConversationStore(db)
	return New(store), store
}

func TestSend_MessageBeforeConversation(t *testing.T) {
	s, store := createTestSyncer(t)
	convID := core.ConversationKey(core.SourceWhatsApp, "t-1")

	// Message event lands first; the conversation upsert follows later.
	err := s.Send(convstore.Event{
		Type:           convstore.EventMessageAdded,
		ConversationID: convID,
		Hash:           "m1",
		Message: &core.Message{
			Hash:           "m1",
			ConversationID: convID,
			Sender:         "Alex",
			Text:           "hello",
			Timestamp:      time.Now().UTC(),
		},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgs, err := store.GetMessages(convID, 10)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("message not persisted: %+v", msgs)
	}

	s.Send(convstore.Event{
		Type:           convstore.EventConversationUpdated,
		ConversationID: convID,
		Conversation: &core.Conversation{
			ID:          convID,
			SourceApp:   core.SourceWhatsApp,
			DisplayName: "Alex",
			Preview:     "hello",
			UnreadCount: 1,
		},
	})

	conv, err := store.GetConversation(convID)
	if err != nil {
		t.Fatalf("get conversation failed: %v", err)
	}
	if conv.DisplayName != "Alex" {
		t.Errorf("stub row should be filled in, got %q", conv.DisplayName)
	}
}

func TestSend_Deletes(t *testing.T) {
	s, store := createTestSyncer(t)
	convID := core.ConversationKey(core.SourceWhatsApp, "t-1")

	s.Send(convstore.Event{
		Type:           convstore.EventMessageAdded,
		ConversationID: convID,
		Message: &core.Message{
			Hash:           "m1",
			ConversationID: convID,
			Sender:         "Alex",
			Text:           "hello",
			Timestamp:      time.Now().UTC(),
		},
	})

	s.Send(convstore.Event{Type: convstore.EventMessageDeleted, ConversationID: convID, Hash: "m1"})
	count, _ := store.CountMessages()
	if count != 0 {
		t.Errorf("expected message deleted, %d rows remain", count)
	}

	s.Send(convstore.Event{Type: convstore.EventConversationDeleted, ConversationID: convID})
	if _, err := store.GetConversation(convID); err == nil {
		t.Error("expected conversation deleted")
	}
}

func TestEndToEnd_IngestSyncsToDisk(t *testing.T) {
	s, durable := createTestSyncer(t)

	mem := convstore.New(convstore.Config{})
	mem.Subscribe(s)

	mem.Ingest(core.RawEvent{
		SourceApp: core.SourceWhatsApp,
		Title:     "Alex",
		Text:      "see you tomorrow",
		Timestamp: time.Now().UTC(),
		Extras:    map[string]string{core.ExtraThreadKey: "t-1"},
	})

	// Broadcast is asynchronous; wait for the write-behind to land.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := durable.CountMessages(); n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("ingested message never reached durable storage")
}

func TestHydrate_RestoresPriorSession(t *testing.T) {
	s, durable := createTestSyncer(t)

	// First session: ingest two conversations and let the syncer mirror
	// them to disk.
	mem := convstore.New(convstore.Config{})
	mem.Subscribe(s)

	base := time.Now().UTC().Truncate(time.Second)
	mem.Ingest(core.RawEvent{
		SourceApp: core.SourceWhatsApp,
		Title:     "Alex",
		Text:      "see you tomorrow",
		Timestamp: base,
		Extras:    map[string]string{core.ExtraThreadKey: "t-1"},
	})
	mem.Ingest(core.RawEvent{
		SourceApp: core.SourceTelegram,
		Title:     "Sam",
		Text:      "lunch friday?",
		Timestamp: base.Add(time.Minute),
		Extras:    map[string]string{core.ExtraThreadKey: "t-2"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := durable.CountMessages(); n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Second session: a fresh store hydrated from the same database.
	fresh := convstore.New(convstore.Config{})
	restored, err := Hydrate(durable, fresh, 500, 50)
	if err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}
	if restored != 2 {
		t.Fatalf("restored = %d, want 2", restored)
	}

	convs := fresh.Conversations()
	if len(convs) != 2 {
		t.Fatalf("got %d conversations after hydration", len(convs))
	}
	if convs[0].DisplayName != "Sam" {
		t.Errorf("most recent conversation should lead, got %q", convs[0].DisplayName)
	}
	if fresh.MessageCount() != 2 {
		t.Errorf("message count = %d, want 2", fresh.MessageCount())
	}

	ctx := fresh.Context(core.ConversationKey(core.SourceWhatsApp, "t-1"), 10)
	if len(ctx) != 1 || ctx[0].Text != "see you tomorrow" {
		t.Fatalf("restored transcript wrong: %+v", ctx)
	}
	if !ctx[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", ctx[0].Timestamp, base)
	}
}

func TestHydrate_NoEventsEchoedBack(t *testing.T) {
	s, durable := createTestSyncer(t)

	convID := core.ConversationKey(core.SourceWhatsApp, "t-1")
	s.Send(convstore.Event{
		Type:           convstore.EventMessageAdded,
		ConversationID: convID,
		Message: &core.Message{
			Hash:           "m1",
			ConversationID: convID,
			Sender:         "Alex",
			Text:           "hello",
			Timestamp:      time.Now().UTC(),
		},
	})

	fresh := convstore.New(convstore.Config{})
	fresh.Subscribe(&countingSubscriber{t: t})
	if _, err := Hydrate(durable, fresh, 500, 50); err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
}

// countingSubscriber fails the test on any event: restores must be silent.
type countingSubscriber struct {
	t *testing.T
}

func (c *countingSubscriber) ID() string { return "counter" }

func (c *countingSubscriber) Send(ev convstore.Event) error {
	c.t.Errorf("hydration emitted event %s", ev.Type)
	return nil
}
