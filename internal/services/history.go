// This file implements the in-memory conversation context store. The store is
// a performance aid for prompt construction, not a system of record: losing it
// degrades the agent's memory, it does not lose data. Turns are kept per
// (agent, counterpart) in a bounded chronological slice; older turns are
// evicted, never summarized.
package services

import (
	"sync"
	"time"

	"github.com/rfdias/zapagent/internal/domain"
)

// convo is one conversation's bounded turn window plus its last-touched time,
// used to evict idle conversations.
type convo struct {
	turns    []domain.Turn
	lastSeen time.Time
}

// History is a mutex-guarded per-conversation turn store. Safe for concurrent
// use; appends and reads for the same key are serialized by the lock.
type History struct {
	mu     sync.Mutex
	limit  int
	convos map[string]*convo

	ttl      time.Duration
	cleanupN uint64

	now func() time.Time // test seam
}

// NewHistory constructs a store keeping at most limit turns per conversation.
// limit <= 0 is coerced to 20.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 20
	}
	return &History{
		limit:  limit,
		convos: make(map[string]*convo),
		ttl:    time.Hour,
		now:    time.Now,
	}
}

// Append records one turn at the end of the conversation window, evicting the
// oldest turn when the window is full.
func (h *History) Append(agentID, counterpart, role, text string, tokens int) {
	now := h.now()
	key := replyKey(agentID, counterpart)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.cleanupN++
	if h.cleanupN >= 1000 {
		for k, cv := range h.convos {
			if now.Sub(cv.lastSeen) >= h.ttl {
				delete(h.convos, k)
			}
		}
		h.cleanupN = 0
	}

	cv, ok := h.convos[key]
	if !ok {
		cv = &convo{turns: make([]domain.Turn, 0, h.limit)}
		h.convos[key] = cv
	}
	cv.lastSeen = now
	cv.turns = append(cv.turns, domain.Turn{Role: role, Text: text, Tokens: tokens, At: now})
	if len(cv.turns) > h.limit {
		cv.turns = cv.turns[len(cv.turns)-h.limit:]
	}
}

// Recent returns up to limit most recent turns in chronological order (oldest
// first). limit <= 0 returns the full window. The returned slice is a copy.
func (h *History) Recent(agentID, counterpart string, limit int) []domain.Turn {
	key := replyKey(agentID, counterpart)

	h.mu.Lock()
	defer h.mu.Unlock()

	cv, ok := h.convos[key]
	if !ok || len(cv.turns) == 0 {
		return nil
	}
	turns := cv.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out
}
