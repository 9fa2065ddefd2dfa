package llm

import (
	"strings"

	"github.com/polyagent/polyagent/internal/domain"
)

const baseSystemPrompt = `
You are "PolyAgent", a general-purpose AI assistant inside a chat application.

Your role:
- Answer questions directly and accurately across any topic.
- Keep replies concise: a few short paragraphs or a compact list, unless the user clearly wants depth.
- When you are unsure, say so instead of inventing details.
- Use plain language and avoid filler.

Conversation behavior:
- The conversation history is provided in order; treat the last user message as the one to answer.
- Stay on the user's topic; do not volunteer unrelated suggestions.
`

// BuildSystemPrompt renders the system instruction, including the reply
// language when the user has picked one.
func BuildSystemPrompt(opts domain.CompletionOptions) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(baseSystemPrompt))
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		b.WriteString("\n\nAlways answer in ")
		b.WriteString(lang)
		b.WriteString(" unless the user explicitly asks for another language.")
	}
	return b.String()
}
