// Package core defines the fundamental types and errors for chatmind.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Store errors
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")

	// Reminder errors
	ErrReminderNotFound = errors.New("reminder not found")

	// Collaborator errors
	ErrLLMUnavailable = errors.New("LLM service unavailable")
	ErrReplyFailed    = errors.New("reply delivery failed")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
