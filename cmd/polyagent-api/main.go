package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	httpadapter "github.com/polyagent/polyagent/internal/adapters/http"
	"github.com/polyagent/polyagent/internal/adapters/llm"
	"github.com/polyagent/polyagent/internal/config"
	"github.com/polyagent/polyagent/internal/domain"
	"github.com/polyagent/polyagent/internal/observability"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	log := observability.Component("api")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var (
		provider domain.CompletionProvider
		err      error
	)
	switch cfg.LLMProvider {
	case "openai":
		provider, err = llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIFastModel, cfg.OpenAIAdvancedModel)
	case "vertex":
		provider, err = llm.NewVertexProvider(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.VertexModel)
	default:
		provider = llm.NewMockProvider()
	}
	if err != nil {
		log.Error("LLM provider init failed", "provider", cfg.LLMProvider, "error", err)
		os.Exit(1)
	}
	log.Info("LLM provider ready", "provider", cfg.LLMProvider)

	handler := httpadapter.NewServer(provider, []byte(cfg.AuthSecret))

	addr := ":" + cfg.Port
	log.Info("relay listening", "addr", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
