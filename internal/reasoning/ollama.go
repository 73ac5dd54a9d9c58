package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type OllamaConfig struct {
	Endpoint string
	Model    string
}

// OllamaClient speaks the native /api/chat endpoint. Stateless: every
// Complete call carries the full rendered conversation.
type OllamaClient struct {
	cfg  OllamaConfig
	http *http.Client
}

func NewOllamaClient(cfg OllamaConfig, httpClient *http.Client) *OllamaClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 300 * time.Second}
	}
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	return &OllamaClient{cfg: cfg, http: httpClient}
}

type ollamaChatRequest struct {
	Model    string     `json:"model"`
	Messages []chatTurn `json:"messages"`
	Stream   bool       `json:"stream"`
}

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *OllamaClient) Complete(ctx context.Context, req Request) (Outcome, error) {
	turns := renderMessages(req)
	payload := ollamaChatRequest{Model: c.cfg.Model, Stream: false}
	for _, turn := range turns {
		payload.Messages = append(payload.Messages, chatTurn{Role: turn.Role, Content: turn.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("ollama chat request failed: %w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("ollama chat read failed: %w: %v", ErrBackendUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Outcome{}, fmt.Errorf("ollama chat returned status %d: %w: %s", resp.StatusCode, ErrBackendUnavailable, clip(string(raw), 300))
	}

	content := gjson.GetBytes(raw, "message.content")
	if content.Type != gjson.String {
		return Outcome{}, fmt.Errorf("ollama chat reply missing message.content: %w: %s", ErrBackendUnavailable, clip(string(raw), 300))
	}
	return ParseReply(content.String()), nil
}

func (c *OllamaClient) Ping(ctx context.Context) (PingReport, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/api/tags", nil)
	if err != nil {
		return PingReport{}, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return PingReport{}, fmt.Errorf("ollama tags request failed: %w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PingReport{}, fmt.Errorf("ollama tags read failed: %w: %v", ErrBackendUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return PingReport{}, fmt.Errorf("ollama tags returned status %d: %w", resp.StatusCode, ErrBackendUnavailable)
	}

	report := PingReport{Reachable: true}
	for _, model := range gjson.GetBytes(raw, "models.#.name").Array() {
		report.Models = append(report.Models, model.String())
	}
	return report, nil
}

func clip(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "...(truncated)"
}
