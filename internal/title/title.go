// Package title derives a short human-readable thread title from the first
// user message.
package title

import (
	"strings"

	"github.com/polyagent/polyagent/internal/domain"
)

// maxWords is how many leading tokens of the first message become the title.
const maxWords = 6

// FromFirstMessage trims and collapses whitespace in text, keeps the first
// six words, and appends an ellipsis when that truncates the input. Empty
// input yields the default placeholder.
func FromFirstMessage(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return domain.DefaultTitle
	}

	words := strings.Fields(t)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	joined := strings.Join(words, " ")

	if len(joined) < len(t) {
		return joined + "…"
	}
	return joined
}
