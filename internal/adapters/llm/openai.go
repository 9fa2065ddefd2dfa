package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/polyagent/polyagent/internal/domain"
)

const (
	defaultFastModel     = "gpt-4o-mini"
	defaultAdvancedModel = "gpt-4o"
	completionTemp       = 0.6
)

type OpenAIProvider struct {
	client        *openai.Client
	fastModel     string
	advancedModel string
}

// NewOpenAIProvider builds a provider over the OpenAI chat completion API.
// Empty model names fall back to the defaults for each tier.
func NewOpenAIProvider(apiKey, fastModel, advancedModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key must be set")
	}
	if fastModel == "" {
		fastModel = defaultFastModel
	}
	if advancedModel == "" {
		advancedModel = defaultAdvancedModel
	}
	return &OpenAIProvider{
		client:        openai.NewClient(apiKey),
		fastModel:     fastModel,
		advancedModel: advancedModel,
	}, nil
}

func (p *OpenAIProvider) GenerateReply(ctx context.Context, history []domain.Turn, opts domain.CompletionOptions) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: BuildSystemPrompt(opts),
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	model := p.fastModel
	if opts.Mode == domain.ModeAdvanced {
		model = p.advancedModel
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: completionTemp,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
