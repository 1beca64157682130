// Package llm provides language-model integration for chatmind.
package llm

import "context"

// Turn is one role-tagged line of a dialogue transcript.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Service is the consumed language-model contract: an ordered list of
// role-tagged turns in, a single text completion (or an error) out. Both
// intent detection and reply generation depend on it and tolerate its
// absence.
type Service interface {
	Chat(ctx context.Context, system string, turns []Turn) (string, error)
	Available() bool
}
