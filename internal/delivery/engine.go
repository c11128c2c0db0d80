package delivery

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rfdias/zapagent/internal/observability"
	"github.com/rfdias/zapagent/internal/provider"
)

// Sender is the slice of the provider client the engine needs. The provider
// client satisfies it; tests substitute a fake.
type Sender interface {
	SendText(ctx context.Context, instance, number, text string) (*provider.SendReceipt, error)
	SetPresence(ctx context.Context, instance, number, presence string) error
}

// Options tune the pacing and retry behavior of the engine.
type Options struct {
	TypingBase    time.Duration // base typing delay per segment
	TypingPerChar time.Duration // additional delay per character
	TypingMax     time.Duration // cap on the per-character component
	TypingJitter  time.Duration // upper bound of the random component
	SegmentPause  time.Duration // pause between segments, not after the last
	SendAttempts  int           // attempts per segment
	SendTimeout   time.Duration // per-attempt timeout
}

// DefaultOptions mirror the human-typing model: 300ms base, 15ms per
// character capped at 1.5s, up to 500ms of jitter, 500ms between segments,
// three attempts per send.
func DefaultOptions() Options {
	return Options{
		TypingBase:    300 * time.Millisecond,
		TypingPerChar: 15 * time.Millisecond,
		TypingMax:     1500 * time.Millisecond,
		TypingJitter:  500 * time.Millisecond,
		SegmentPause:  500 * time.Millisecond,
		SendAttempts:  3,
		SendTimeout:   30 * time.Second,
	}
}

// Engine delivers one reply as ordered, human-paced segments:
//
//	SEGMENT → for each segment { presence(composing) → typing delay →
//	send with retry } → presence(paused)
//
// Presence is reset to "paused" in a cleanup step even when delivery fails,
// so the counterpart never sees a permanent typing indicator.
type Engine struct {
	sender Sender
	opts   Options
	log    zerolog.Logger

	// sleep is injected so tests run without real waits.
	sleep func(ctx context.Context, d time.Duration) error
	// jitter returns a random duration in [0, max).
	jitter func(max time.Duration) time.Duration
}

// NewEngine builds a delivery engine around the given sender.
func NewEngine(sender Sender, opts Options) *Engine {
	if opts.SendAttempts < 1 {
		opts.SendAttempts = 1
	}
	return &Engine{
		sender: sender,
		opts:   opts,
		log:    log.With().Str("component", "delivery").Logger(),
		sleep:  sleepCtx,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// typingDelay models human typing speed for a segment of the given rune
// length without inflating latency unboundedly.
func (e *Engine) typingDelay(segLen int) time.Duration {
	perChar := time.Duration(segLen) * e.opts.TypingPerChar
	if perChar > e.opts.TypingMax {
		perChar = e.opts.TypingMax
	}
	return e.opts.TypingBase + perChar + e.jitter(e.opts.TypingJitter)
}

// Deliver splits text and sends each segment in strict order. A permanent
// unknown-number rejection stops the remaining segments silently; exhausted
// retries surface as an error. In both cases presence is reset to paused.
func (e *Engine) Deliver(ctx context.Context, instance, number, text string) error {
	segments := Split(text)
	if len(segments) == 0 {
		return nil
	}

	defer func() {
		// Best effort; the reply outcome is already decided.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), e.opts.SendTimeout)
		defer cancel()
		if err := e.sender.SetPresence(cleanupCtx, instance, number, provider.PresencePaused); err != nil {
			e.log.Debug().Err(err).Str("number", number).Msg("presence reset failed")
		}
	}()

	for i, seg := range segments {
		if err := e.sender.SetPresence(ctx, instance, number, provider.PresenceComposing); err != nil {
			e.log.Debug().Err(err).Str("number", number).Msg("composing presence failed")
		}
		if err := e.sleep(ctx, e.typingDelay(len([]rune(seg)))); err != nil {
			return err
		}

		err := e.sendSegment(ctx, instance, number, seg)
		if errors.Is(err, provider.ErrNumberNotOnWhatsApp) {
			// Terminal success-like no-op: the destination does not exist,
			// further segments cannot land either.
			e.log.Info().Str("number", number).Msg("destination not on whatsapp, dropping reply")
			return nil
		}
		if err != nil {
			observability.DeliveriesFailed.Inc()
			return err
		}
		observability.SegmentsSent.Inc()

		if i < len(segments)-1 {
			if err := e.sleep(ctx, e.opts.SegmentPause); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendSegment runs one segment through the retry policy: up to SendAttempts
// attempts with a per-attempt timeout; 5xx waits attempt*2s, other transient
// failures attempt*3s; the unknown-number rejection is never retried.
func (e *Engine) sendSegment(ctx context.Context, instance, number, seg string) error {
	policy := Policy{
		MaxAttempts: e.opts.SendAttempts,
		Backoff: func(attempt int, err error) time.Duration {
			if provider.IsServerError(err) {
				return time.Duration(attempt) * 2 * time.Second
			}
			return time.Duration(attempt) * 3 * time.Second
		},
		Retryable: func(err error) bool {
			return !errors.Is(err, provider.ErrNumberNotOnWhatsApp)
		},
		Sleep: e.sleep,
	}
	return policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
		defer cancel()
		_, err := e.sender.SendText(attemptCtx, instance, number, seg)
		return err
	})
}
