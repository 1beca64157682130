// Package llm provides language-model integration for chatmind.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Router prefers the remote model and falls back to the local one when the
// remote is unconfigured or fails. It implements Service itself, so callers
// never know which backend answered.
type Router struct {
	remote Service
	local  Service

	mu    sync.RWMutex
	stats RouterStats
}

// RouterStats tracks router usage
type RouterStats struct {
	RemoteRequests int64 `json:"remote_requests"`
	LocalRequests  int64 `json:"local_requests"`
	Fallbacks      int64 `json:"fallbacks"`
	Failures       int64 `json:"failures"`
}

// NewRouter creates a router. Either backend may be nil.
func NewRouter(remote, local Service) *Router {
	return &Router{remote: remote, local: local}
}

// Chat implements Service
func (r *Router) Chat(ctx context.Context, system string, turns []Turn) (string, error) {
	if r.remote != nil && r.remote.Available() {
		out, err := r.remote.Chat(ctx, system, turns)
		if err == nil {
			r.count(func(s *RouterStats) { s.RemoteRequests++ })
			return out, nil
		}
		// Remote failed; a context cancellation is the caller's deadline
		// and falling back would just fail again.
		if ctx.Err() != nil {
			r.count(func(s *RouterStats) { s.Failures++ })
			return "", err
		}
		if r.local != nil && r.local.Available() {
			out, lerr := r.local.Chat(ctx, system, turns)
			if lerr == nil {
				r.count(func(s *RouterStats) { s.Fallbacks++; s.LocalRequests++ })
				return out, nil
			}
			r.count(func(s *RouterStats) { s.Failures++ })
			return "", fmt.Errorf("all providers failed: %w", lerr)
		}
		r.count(func(s *RouterStats) { s.Failures++ })
		return "", err
	}

	if r.local != nil && r.local.Available() {
		out, err := r.local.Chat(ctx, system, turns)
		if err != nil {
			r.count(func(s *RouterStats) { s.Failures++ })
			return "", err
		}
		r.count(func(s *RouterStats) { s.LocalRequests++ })
		return out, nil
	}

	r.count(func(s *RouterStats) { s.Failures++ })
	return "", fmt.Errorf("no LLM provider configured")
}

// Available implements Service
func (r *Router) Available() bool {
	if r.remote != nil && r.remote.Available() {
		return true
	}
	return r.local != nil && r.local.Available()
}

// Stats returns a snapshot of router usage
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

func (r *Router) count(fn func(*RouterStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}
