// Package reply generates suggested replies to incoming messages and
// pushes accepted ones back through the originating app's reply handle.
package reply

import (
	"context"
	"strings"

	"github.com/chatmind/chatmind/internal/core"
	"github.com/chatmind/chatmind/internal/llm"
	"github.com/chatmind/chatmind/internal/logging"
)

// DefaultContextLines is how much conversation history the model sees.
const DefaultContextLines = 10

const systemPrompt = `You are drafting a reply on behalf of the user in a casual chat conversation. Read the transcript and write ONE short reply in the user's voice, matching the tone of the conversation. Respond with the reply text only: no quotes, no preamble, no explanation.`

// MessageStore is the conversation-state collaborator.
type MessageStore interface {
	Context(convID core.ConversationID, limit int) []core.Message
	GetMessage(hash string) (core.Message, bool)
	UpdateGeneratedReply(hash, reply string) bool
	MarkSent(hash string) bool
}

// Sender transmits a reply through the app the message came from. Success
// is boolean; there are no partial-failure semantics.
type Sender interface {
	Send(replyHandle, text string) bool
}

// Generator drafts replies and records their lifecycle on the store.
type Generator struct {
	llm          llm.Service
	store        MessageStore
	sender       Sender
	contextLines int
}

// New creates a generator. sender may be nil, in which case Send always
// fails.
func New(service llm.Service, store MessageStore, sender Sender, contextLines int) *Generator {
	if contextLines <= 0 {
		contextLines = DefaultContextLines
	}
	return &Generator{
		llm:          service,
		store:        store,
		sender:       sender,
		contextLines: contextLines,
	}
}

// Generate drafts a reply to the message with the given hash and records
// it on the store. Drafting for an outgoing message is an input error.
func (g *Generator) Generate(ctx context.Context, hash string) (string, error) {
	msg, ok := g.store.GetMessage(hash)
	if !ok {
		return "", core.ErrMessageNotFound
	}
	if msg.Outgoing {
		return "", core.ErrInvalidInput
	}
	if g.llm == nil || !g.llm.Available() {
		return "", core.ErrLLMUnavailable
	}

	var transcript strings.Builder
	for _, m := range g.store.Context(msg.ConversationID, g.contextLines) {
		sender := m.Sender
		if m.Outgoing {
			sender = "Me"
		}
		transcript.WriteString(sender + ": " + m.Text + "\n")
	}

	response, err := g.llm.Chat(ctx, systemPrompt, []llm.Turn{
		{Role: "user", Content: transcript.String()},
	})
	if err != nil {
		return "", core.ErrReplyFailed
	}

	draft := cleanDraft(response)
	if draft == "" {
		return "", core.ErrReplyFailed
	}

	if !g.store.UpdateGeneratedReply(hash, draft) {
		return "", core.ErrMessageNotFound
	}
	return draft, nil
}

// cleanDraft strips the wrapping models like to add around a bare reply.
func cleanDraft(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"")
	if idx := strings.Index(s, "\n"); idx > 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// Send transmits the stored draft through the message's reply handle.
// Returns whether the reply went out; the caller owns user feedback for a
// false return.
func (g *Generator) Send(hash string) bool {
	msg, ok := g.store.GetMessage(hash)
	if !ok {
		return false
	}
	if !msg.CanReply || msg.ReplyHandle == "" || msg.GeneratedReply == "" {
		return false
	}
	if g.sender == nil || !g.sender.Send(msg.ReplyHandle, msg.GeneratedReply) {
		logging.Warn("reply delivery failed for message %s", hash)
		return false
	}

	g.store.MarkSent(hash)
	return true
}
