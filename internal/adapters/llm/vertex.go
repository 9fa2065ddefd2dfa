package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/polyagent/polyagent/internal/domain"
)

const defaultVertexModel = "gemini-2.5-flash"

type VertexProvider struct {
	client    *genai.Client
	modelName string
}

// NewVertexProvider builds a provider over Vertex AI (Gemini). Credentials
// come from the environment's application default credentials.
func NewVertexProvider(ctx context.Context, projectID, location, modelName string) (*VertexProvider, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("GCP project and location must be set")
	}
	if modelName == "" {
		modelName = defaultVertexModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexProvider{
		client:    client,
		modelName: modelName,
	}, nil
}

func (p *VertexProvider) GenerateReply(ctx context.Context, history []domain.Turn, opts domain.CompletionOptions) (string, error) {
	var contents []*genai.Content
	for _, turn := range history {
		var role genai.Role = genai.RoleUser
		if turn.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	temp := float32(completionTemp)
	topP := float32(0.9)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(BuildSystemPrompt(opts), genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   int32(8192),
	}

	res, err := p.client.Models.GenerateContent(ctx, p.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("vertex generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("vertex returned empty text")
	}
	return text, nil
}
