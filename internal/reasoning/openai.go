package reasoning

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// OpenAIClient targets any OpenAI-compatible chat completions endpoint,
// selected with backend kind "openai".
type OpenAIClient struct {
	cfg    OpenAIConfig
	client openai.Client
}

func NewOpenAIClient(cfg OpenAIConfig, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	return &OpenAIClient{cfg: cfg, client: openai.NewClient(opts...)}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Outcome, error) {
	turns := renderMessages(req)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(turn.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.Model),
		Messages: messages,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("chat completion request failed: %w: %v", ErrBackendUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Outcome{}, fmt.Errorf("chat completion returned no choices: %w", ErrBackendUnavailable)
	}
	return ParseReply(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Ping(ctx context.Context) (PingReport, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return PingReport{}, fmt.Errorf("models list request failed: %w: %v", ErrBackendUnavailable, err)
	}
	report := PingReport{Reachable: true}
	for _, model := range page.Data {
		report.Models = append(report.Models, model.ID)
	}
	return report, nil
}
