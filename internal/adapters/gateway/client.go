// Package gateway is the client for the completion relay: one HTTP call
// carrying the full message history, returning a single reply.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/polyagent/polyagent/internal/domain"
)

const chatPath = "/api/chat"

type chatRequest struct {
	Messages []domain.Turn `json:"messages"`
	Mode     string        `json:"mode"`
	Language string        `json:"language"`
}

type chatResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error"`
}

type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient builds a gateway client. baseURL is the relay origin without a
// trailing slash, e.g. http://localhost:5001.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Complete sends the history and options to the relay. It never retries: a
// completion is not safe to blindly resend, so every failure is returned to
// the caller mapped onto the gateway error taxonomy.
func (c *Client) Complete(ctx context.Context, history []domain.Turn, opts domain.CompletionOptions, authToken string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Messages: history,
		Mode:     string(opts.Mode),
		Language: opts.Language,
	})
	if err != nil {
		return "", &domain.GatewayError{Kind: domain.GatewayBadRequest, Message: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return "", &domain.GatewayError{Kind: domain.GatewayBadRequest, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return "", &domain.GatewayError{Kind: domain.GatewayUnreachable, Message: "request failed (likely network loss or server down)"}
	}
	defer res.Body.Close()

	var parsed chatResponse
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	_ = json.Unmarshal(raw, &parsed)

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return parsed.Reply, nil
	}

	msg := parsed.Error
	if msg == "" {
		msg = http.StatusText(res.StatusCode)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return "", &domain.GatewayError{Kind: domain.GatewayUnauthorized, Status: res.StatusCode, Message: msg}
	case res.StatusCode == http.StatusBadRequest:
		return "", &domain.GatewayError{Kind: domain.GatewayBadRequest, Status: res.StatusCode, Message: msg}
	default:
		return "", &domain.GatewayError{Kind: domain.GatewayServerError, Status: res.StatusCode, Message: msg}
	}
}
