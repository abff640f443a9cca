// Package summarizer talks to OpenAI-compatible chat completion providers.
// Groq is the default endpoint.
package summarizer

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"stockwatch/internal/platform/config"
	dErrors "stockwatch/pkg/domain-errors"
)

// Client sends one user message per prompt and returns the first choice verbatim.
type Client struct {
	api   *openai.Client
	model string
}

// New builds a client for cfg. httpClient may be nil.
func New(cfg config.Analysis, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "summarization API key is not set")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	return &Client{api: openai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

func (c *Client) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", mapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "summarization timed out")
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return dErrors.Wrap(err, dErrors.CodeConfiguration, "summarization credentials rejected")
		case http.StatusBadRequest, http.StatusNotFound:
			return dErrors.Wrap(err, dErrors.CodeConfiguration, "summarization request rejected")
		}
	}
	return dErrors.Wrap(err, dErrors.CodeTransientIO, "summarization service unavailable")
}
