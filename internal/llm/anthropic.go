package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	temp      float32
}

func NewAnthropic(cfg Config) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	var opts []anthropic.ClientOption
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		opts = append(opts, anthropic.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{
		client:    anthropic.NewClient(strings.TrimSpace(cfg.APIKey), opts...),
		model:     model,
		maxTokens: maxTokens,
		temp:      float32(cfg.Temperature),
	}, nil
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	system := req.System
	if req.JSON {
		system += "\nRespond with a single JSON object and nothing else."
	}
	user := req.User
	temperature := a.temp
	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		System:      system,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &user},
			}},
		},
	})
	if err != nil {
		err = fmt.Errorf("anthropic messages: %w", err)
		if isAnthropicClientError(err) {
			return "", Permanent(err)
		}
		return "", err
	}
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			if text := strings.TrimSpace(*block.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", ErrEmptyCompletion
}

// isAnthropicClientError reports rejected requests other than rate limiting.
// Structured API errors carry a type instead of a status code.
func isAnthropicClientError(err error) bool {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsInvalidRequestErr() || apiErr.IsAuthenticationErr() || apiErr.IsPermissionErr() ||
			apiErr.IsNotFoundErr() || apiErr.IsTooLargeErr()
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode >= 400 && reqErr.StatusCode < 500 && reqErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
