// This file orchestrates one reply: flow control, credit metering, context
// assembly, model invocation, and handoff to the outbound delivery engine.
// The counterpart either receives the generated reply, a configured static
// text (wait notice or fallback), or nothing at all — never a raw error.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rfdias/zapagent/internal/credits"
	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/llm"
	"github.com/rfdias/zapagent/internal/observability"
)

// Static texts used when the agent leaves them unconfigured.
const (
	defaultWaitText     = "One moment, please."
	defaultFallbackText = "I can't respond right now. Please try again later."
)

// Deliverer is the outbound delivery engine as seen by the pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, instance, number, text string) error
}

// Pipeline turns one accepted inbound message into at most one outbound
// delivery. All collaborators are injected; the pipeline holds no global
// state beyond its per-conversation flow-control maps.
type Pipeline struct {
	limiter   *ReplyLimiter
	guard     *ConsecutiveGuard
	history   *History
	assembler *Assembler
	invoker   llm.Invoker
	meter     credits.Meter
	deliverer Deliverer
	log       zerolog.Logger
}

// NewPipeline wires the reply pipeline.
func NewPipeline(
	limiter *ReplyLimiter,
	guard *ConsecutiveGuard,
	history *History,
	assembler *Assembler,
	invoker llm.Invoker,
	meter credits.Meter,
	deliverer Deliverer,
) *Pipeline {
	if meter == nil {
		meter = credits.Unlimited{}
	}
	return &Pipeline{
		limiter:   limiter,
		guard:     guard,
		history:   history,
		assembler: assembler,
		invoker:   invoker,
		meter:     meter,
		deliverer: deliverer,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// jidToNumber strips the JID server suffix for the provider's send endpoints.
func jidToNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// Reply runs the full pipeline for one inbound (agent, counterpart, text)
// tuple. The returned error reports internal failures only; rejected and
// throttled messages resolve to nil after their static delivery.
func (p *Pipeline) Reply(ctx context.Context, inst *domain.Instance, agent *domain.AgentConfig, counterpart, text string) error {
	number := jidToNumber(counterpart)
	lg := p.log.With().
		Str("instance", inst.Name).
		Str("counterpart", number).
		Logger()

	// Cooldown after a reply streak: stay silent, no wait notice.
	if !p.guard.Allow(agent.ID, counterpart, agent.MaxConsecutive) {
		lg.Debug().Msg("conversation cooling down; reply suppressed")
		return nil
	}

	if !p.limiter.CheckLimit(agent.ID, counterpart, agent.MaxPerMinute) {
		observability.RepliesGenerated.WithLabelValues("wait").Inc()
		wait := agent.WaitText
		if strings.TrimSpace(wait) == "" {
			wait = defaultWaitText
		}
		lg.Info().Msg("rate limit exceeded; sending wait notice")
		return p.deliverer.Deliver(ctx, inst.Name, number, wait)
	}

	// Pre-check before spending a model call. Pre-check and charge are two
	// separate calls with no reservation between them; concurrent replies
	// for the same user can both pass here.
	if _, err := p.meter.Check(ctx, inst.ID, agent.Model); err != nil {
		observability.RepliesGenerated.WithLabelValues("fallback").Inc()
		fallback := agent.FallbackText
		if strings.TrimSpace(fallback) == "" {
			fallback = defaultFallbackText
		}
		lg.Info().Err(err).Msg("credit pre-check failed; sending fallback")
		return p.deliverer.Deliver(ctx, inst.Name, number, fallback)
	}

	recent := p.history.Recent(agent.ID, counterpart, 0)
	p.history.Append(agent.ID, counterpart, domain.RoleUser, text, 0)
	msgs := p.assembler.Assemble(ctx, agent, recent, text)

	start := time.Now()
	out, err := p.invoker.Generate(ctx, agent.Model, agent.MaxTokens, agent.Temperature, msgs)
	if err != nil {
		observability.RepliesGenerated.WithLabelValues("error").Inc()
		lg.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("model call failed; reply aborted")
		return fmt.Errorf("generate reply: %w", err)
	}
	lg.Debug().Int("tokens", out.TokensUsed).Dur("elapsed", time.Since(start)).Msg("reply generated")

	p.history.Append(agent.ID, counterpart, domain.RoleAssistant, out.Text, out.TokensUsed)

	if _, err := p.meter.Charge(ctx, inst.ID, agent.Model); err != nil {
		// The reply already cost a model call; losing the charge is an
		// accounting gap, not a reason to withhold the text.
		lg.Error().Err(err).Msg("credit charge failed")
	}

	if err := p.deliverer.Deliver(ctx, inst.Name, number, out.Text); err != nil {
		observability.RepliesGenerated.WithLabelValues("error").Inc()
		return fmt.Errorf("deliver reply: %w", err)
	}
	observability.RepliesGenerated.WithLabelValues("ok").Inc()
	p.guard.Note(agent.ID, counterpart, agent.MaxConsecutive, time.Duration(agent.CooldownMinutes)*time.Minute)
	return nil
}
