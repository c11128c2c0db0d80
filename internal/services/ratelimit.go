// This file implements the per-(agent, counterpart) flow control of the reply
// pipeline: a token-bucket limiter enforcing the agent's messages-per-minute
// cap, and a consecutive-reply guard enforcing the agent's streak cap with a
// cooldown. Both are in-memory, per-key, and safe for concurrent use; idle
// entries are evicted opportunistically to bound memory.
//
// Process-local by design: one process owns one instance's traffic, so a
// distributed limiter buys nothing here.
package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxPerMinute is applied when AgentConfig leaves the cap unset.
const DefaultMaxPerMinute = 5

// replyKey builds the bucket identity for one conversation.
func replyKey(agentID, counterpart string) string {
	return agentID + "|" + counterpart
}

// bucket holds a single limiter, the cap it was built for, and the last time
// it was seen. Used to opportunistically evict idle buckets and to rebuild
// the limiter when the agent's cap changes.
type bucket struct {
	limiter  *rate.Limiter
	perMin   int
	lastSeen time.Time
}

// ReplyLimiter enforces the per-counterpart messages-per-minute cap.
//
// Buckets are created on demand and stored in an internal map guarded by a
// mutex. Idle buckets are evicted after a TTL via opportunistic cleanup during
// lookups. Safe for concurrent use.
type ReplyLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	defaultPerMin int
	ttl           time.Duration
	cleanupN      uint64

	now func() time.Time // test seam
}

// NewReplyLimiter constructs an empty limiter with a 10-minute idle TTL.
// defaultPerMinute is the deployment-wide cap applied when an agent leaves
// MaxPerMinute unset; <= 0 falls back to DefaultMaxPerMinute.
func NewReplyLimiter(defaultPerMinute int) *ReplyLimiter {
	if defaultPerMinute <= 0 {
		defaultPerMinute = DefaultMaxPerMinute
	}
	return &ReplyLimiter{
		buckets:       make(map[string]*bucket),
		defaultPerMin: defaultPerMinute,
		ttl:           10 * time.Minute,
		now:           time.Now,
	}
}

// CheckLimit reports whether one more inbound message from counterpart may
// enter the pipeline under the agent's cap. maxPerMinute <= 0 falls back to
// the limiter's configured default. A bucket refills at maxPerMinute/60
// tokens per second with burst maxPerMinute, so a quiet counterpart can spend
// the full cap at once and is then paced for the rest of the minute.
func (rl *ReplyLimiter) CheckLimit(agentID, counterpart string, maxPerMinute int) bool {
	if maxPerMinute <= 0 {
		maxPerMinute = rl.defaultPerMin
	}
	key := replyKey(agentID, counterpart)
	now := rl.now()

	rl.mu.Lock()
	// Opportunistic cleanup after a threshold of lookups. Run it BEFORE
	// touching the requested bucket so an old entry can be evicted even when
	// it is the one being fetched.
	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.cleanupN = 0
	}

	b, ok := rl.buckets[key]
	if !ok || b.perMin != maxPerMinute {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), maxPerMinute),
			perMin:  maxPerMinute,
		}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	lim := b.limiter
	rl.mu.Unlock()

	return lim.AllowN(now, 1)
}

// streak tracks assistant replies sent without a human-scale pause.
type streak struct {
	count     int
	lastReply time.Time
	coolUntil time.Time
}

// ConsecutiveGuard enforces the agent's consecutive-reply cap: after
// maxConsecutive replies without a pause the conversation enters a cooldown
// during which the pipeline stays silent. A gap of PauseGap since the last
// reply counts as a human pause and resets the streak. Safe for concurrent use.
type ConsecutiveGuard struct {
	mu      sync.Mutex
	streaks map[string]*streak

	// PauseGap is the idle interval treated as a human pause.
	PauseGap time.Duration

	now func() time.Time // test seam
}

// NewConsecutiveGuard constructs a guard with a 5-minute pause gap.
func NewConsecutiveGuard() *ConsecutiveGuard {
	return &ConsecutiveGuard{
		streaks:  make(map[string]*streak),
		PauseGap: 5 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether the conversation may receive another automated reply.
// It returns false only while a cooldown is active. maxConsecutive <= 0
// disables the guard.
func (g *ConsecutiveGuard) Allow(agentID, counterpart string, maxConsecutive int) bool {
	if maxConsecutive <= 0 {
		return true
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.streaks[agentID+"|"+counterpart]
	if !ok {
		return true
	}
	if now.Before(s.coolUntil) {
		return false
	}
	if !s.coolUntil.IsZero() && !now.Before(s.coolUntil) {
		// Cooldown elapsed; start a fresh streak.
		s.count = 0
		s.coolUntil = time.Time{}
	}
	if s.count > 0 && now.Sub(s.lastReply) >= g.PauseGap {
		s.count = 0
	}
	return true
}

// Note records one delivered assistant reply. When the streak reaches
// maxConsecutive the conversation enters cooldown for the given duration.
func (g *ConsecutiveGuard) Note(agentID, counterpart string, maxConsecutive int, cooldown time.Duration) {
	if maxConsecutive <= 0 {
		return
	}
	now := g.now()
	key := agentID + "|" + counterpart

	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.streaks[key]
	if !ok {
		s = &streak{}
		g.streaks[key] = s
	}
	if s.count > 0 && now.Sub(s.lastReply) >= g.PauseGap {
		s.count = 0
	}
	s.count++
	s.lastReply = now
	if s.count >= maxConsecutive {
		s.coolUntil = now.Add(cooldown)
		s.count = 0
	}
}
