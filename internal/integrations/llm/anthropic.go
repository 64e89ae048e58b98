package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Models  ModelSet
}

// AnthropicBackend calls the Messages API. SDK-level retries are disabled;
// retry and failover belong to the Manager.
type AnthropicBackend struct {
	client anthropic.Client
	models ModelSet
}

func NewAnthropicBackend(cfg AnthropicConfig) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(externalHTTPClient),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	models := cfg.Models
	if models.Default == "" {
		models.Default = defaultAnthropicModel
	}
	if models.Fast == "" {
		models.Fast = defaultAnthropicFastModel
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(opts...),
		models: models,
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (Response, error) {
	model := b.models.Resolve(req.Model)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.maxTokens()),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return Response{}, &ProviderError{
			Provider:   b.Name(),
			Message:    err.Error(),
			StatusCode: status,
			Err:        err,
		}
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return Response{
				Content:      block.Text,
				Model:        string(message.Model),
				InputTokens:  message.Usage.InputTokens,
				OutputTokens: message.Usage.OutputTokens,
			}, nil
		}
	}
	return Response{}, &ProviderError{
		Provider: b.Name(),
		Message:  fmt.Sprintf("no text content in response (model %s)", model),
	}
}
