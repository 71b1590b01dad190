package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// OpenAICompleter implements Completer with the chat completions API of
// OpenAI or any compatible endpoint.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewOpenAICompleter creates a completer. baseURL may be empty. SDK-level
// retries are disabled; the caller decides whether to try again.
func NewOpenAICompleter(apiKey, baseURL, model string) *OpenAICompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompleter{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: 0.2,
	}
}

// Complete sends one chat completion and returns the first choice's content.
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		}),
		Model:       openai.F(openai.ChatModel(c.model)),
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", errorKind(err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", domain.Malformed("classification", "empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// errorKind tags SDK errors with the domain taxonomy.
func errorKind(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return fmt.Errorf("%w: %w", domain.ErrCredential, err)
		}
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}
