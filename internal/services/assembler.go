// This file builds the model instruction for one reply. The instruction is
// selected from the agent configuration in strict order (custom prompt, then
// structured business context, then a minimal goal-only fallback) and is
// independently augmented with retrieved knowledge. Knowledge retrieval is
// best-effort: a failed lookup is logged and the reply proceeds without it.
package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/knowledge"
	"github.com/rfdias/zapagent/internal/llm"
)

// PromptPlaceholder is the literal default seeded into new agent
// configurations. A system prompt equal to it is treated as unset so the
// structured business fields still apply.
const PromptPlaceholder = "You are a helpful assistant."

// Assembler produces the ordered message list handed to the model invoker.
type Assembler struct {
	retriever knowledge.Retriever
	topK      int
	log       zerolog.Logger
}

// NewAssembler builds an assembler that augments instructions with up to topK
// retrieved passages. topK <= 0 is coerced to 3.
func NewAssembler(retriever knowledge.Retriever, topK int) *Assembler {
	if topK <= 0 {
		topK = 3
	}
	if retriever == nil {
		retriever = knowledge.None{}
	}
	return &Assembler{
		retriever: retriever,
		topK:      topK,
		log:       log.With().Str("component", "assembler").Logger(),
	}
}

// Instruction selects the base instruction for the agent. The second return
// is true when the configuration is degraded (no prompt and no business
// fields), which callers may want to surface in logs.
func (a *Assembler) Instruction(agent *domain.AgentConfig) (string, bool) {
	if p := strings.TrimSpace(agent.SystemPrompt); p != "" && p != PromptPlaceholder {
		return p, false
	}
	if strings.TrimSpace(agent.Company) != "" || strings.TrimSpace(agent.Product) != "" {
		return businessInstruction(agent), false
	}
	return goalInstruction(agent), true
}

// businessInstruction synthesizes an instruction from the structured
// business-context fields.
func businessInstruction(agent *domain.AgentConfig) string {
	var b strings.Builder
	b.WriteString("You are a conversational assistant")
	if c := strings.TrimSpace(agent.Company); c != "" {
		b.WriteString(" representing ")
		b.WriteString(c)
	}
	b.WriteString(".")
	if p := strings.TrimSpace(agent.Product); p != "" {
		b.WriteString(" You help customers with ")
		b.WriteString(p)
		b.WriteString(".")
	}
	if g := strings.TrimSpace(agent.Goal); g != "" {
		b.WriteString(" Your goal: ")
		b.WriteString(g)
		b.WriteString(".")
	}
	if au := strings.TrimSpace(agent.Audience); au != "" {
		b.WriteString(" Your audience: ")
		b.WriteString(au)
		b.WriteString(".")
	}
	if t := strings.TrimSpace(agent.Tone); t != "" {
		b.WriteString(" Keep a ")
		b.WriteString(t)
		b.WriteString(" tone.")
	}
	if ln := localeName(agent.Locale); ln != "" {
		b.WriteString(" Always reply in ")
		b.WriteString(ln)
		b.WriteString(".")
	}
	b.WriteString(" Keep replies short and conversational, as chat messages.")
	return b.String()
}

// goalInstruction is the degraded-configuration fallback.
func goalInstruction(agent *domain.AgentConfig) string {
	var b strings.Builder
	b.WriteString("You are a helpful conversational assistant.")
	if g := strings.TrimSpace(agent.Goal); g != "" {
		b.WriteString(" Your goal: ")
		b.WriteString(g)
		b.WriteString(".")
	}
	if ln := localeName(agent.Locale); ln != "" {
		b.WriteString(" Always reply in ")
		b.WriteString(ln)
		b.WriteString(".")
	}
	b.WriteString(" Keep replies short and conversational, as chat messages.")
	return b.String()
}

// localeName resolves a BCP 47 locale tag ("pt-BR", "en") to its English
// language name, or "" when the tag is absent or unparseable.
func localeName(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	return display.English.Tags().Name(tag)
}

// Assemble produces the full ordered message list for one reply: the base
// instruction (plus any retrieved knowledge) as the system message, the
// conversation history oldest-first, and the incoming user text last.
func (a *Assembler) Assemble(ctx context.Context, agent *domain.AgentConfig, history []domain.Turn, userText string) []llm.Message {
	instruction, degraded := a.Instruction(agent)
	if degraded {
		a.log.Warn().Str("agent_id", agent.ID).Msg("agent has no prompt and no business context; using degraded instruction")
	}

	if passages, err := a.retriever.TopK(ctx, agent.ID, userText, a.topK); err != nil {
		a.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("knowledge retrieval failed; continuing without it")
	} else if len(passages) > 0 {
		var b strings.Builder
		b.WriteString(instruction)
		b.WriteString("\n\n--- Relevant knowledge ---\n")
		for _, p := range passages {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(p.Text))
			b.WriteString("\n")
		}
		b.WriteString("--- End of relevant knowledge ---")
		instruction = b.String()
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: instruction})
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: domain.RoleUser, Content: userText})
	return msgs
}
