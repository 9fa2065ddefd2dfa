package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/polyagent/polyagent/internal/domain"
)

// maxChatBody bounds the request body; 500 messages of a few KB each stay
// well under this.
const maxChatBody = 4 << 20

type Server struct {
	provider domain.CompletionProvider
}

// NewServer builds the relay's HTTP handler. The secret guards /api/chat;
// /healthz stays open for probes.
func NewServer(provider domain.CompletionProvider, secret []byte, opts ...ServerOption) http.Handler {
	s := &Server{provider: provider}

	cfg := serverConfig{ratePerSecond: 1, rateBurst: 5}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost, http.MethodOptions)
	api.Use(
		withBearerAuth(secret),
		withRateLimit(cfg.ratePerSecond, cfg.rateBurst),
	)

	return chainMiddlewares(r, withLogging, withCORS)
}

type serverConfig struct {
	ratePerSecond float64
	rateBurst     int
}

type ServerOption func(*serverConfig)

// WithRateLimit overrides the per-client request rate for /api/chat.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(c *serverConfig) {
		c.ratePerSecond = perSecond
		c.rateBurst = burst
	}
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatTurn `json:"messages"`
	Mode     string     `json:"mode,omitempty"`
	Language string     `json:"language,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Messages == nil {
		badRequest(w, "messages must be an array")
		return
	}

	history := make([]domain.Turn, 0, len(req.Messages))
	for _, t := range req.Messages {
		history = append(history, domain.Turn{Role: parseRole(t.Role), Content: t.Content})
	}

	opts := domain.CompletionOptions{
		Mode:     parseMode(req.Mode),
		Language: req.Language,
	}

	reply, err := s.provider.GenerateReply(r.Context(), history, opts)
	if err != nil {
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func parseRole(s string) domain.Role {
	if strings.EqualFold(strings.TrimSpace(s), string(domain.RoleAssistant)) {
		return domain.RoleAssistant
	}
	return domain.RoleUser
}

func parseMode(s string) domain.Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "advanced":
		return domain.ModeAdvanced
	default:
		return domain.ModeFast
	}
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error": "unauthorized",
	})
}

func internalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "AI chat failed",
	})
}
