package llm

import (
	"context"
	"fmt"

	"github.com/polyagent/polyagent/internal/domain"
)

// MockProvider echoes the last user turn. Used in tests and when the relay
// runs without model credentials.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) GenerateReply(ctx context.Context, history []domain.Turn, opts domain.CompletionOptions) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			return fmt.Sprintf("You said %q. This is a canned reply in %s mode.", history[i].Content, opts.Mode), nil
		}
	}
	return "Hello! Ask me anything.", nil
}
