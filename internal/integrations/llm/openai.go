package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Models  ModelSet
}

type OpenAIBackend struct {
	apiKey  string
	baseURL string
	models  ModelSet
	client  *http.Client
}

func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	models := cfg.Models
	if models.Default == "" {
		models.Default = defaultOpenAIModel
	}
	if models.Fast == "" {
		models.Fast = defaultOpenAIFastModel
	}
	return &OpenAIBackend{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		models:  models,
		client:  externalHTTPClient,
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Response, error) {
	model := b.models.Resolve(req.Model)
	reqBody := openAIRequest{
		Model:       model,
		MaxTokens:   req.maxTokens(),
		Temperature: req.Temperature,
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		reqBody.Messages = append(reqBody.Messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	reqBody.Messages = append(reqBody.Messages, openAIMessage{Role: "user", Content: req.Prompt})

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, b.fail(0, fmt.Sprintf("marshaling request: %v", err), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, b.fail(0, fmt.Sprintf("creating request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, b.fail(0, err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, b.fail(resp.StatusCode, fmt.Sprintf("reading response: %v", err), err)
	}

	var parsed openAIResponse
	parseErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(respBody))
		if parseErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		if len(msg) > 512 {
			msg = msg[:512] + "..."
		}
		return Response{}, b.fail(resp.StatusCode, msg, nil)
	}
	if parseErr != nil {
		return Response{}, b.fail(resp.StatusCode, fmt.Sprintf("parsing response: %v", parseErr), parseErr)
	}
	if parsed.Error != nil {
		return Response{}, b.fail(resp.StatusCode, parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, b.fail(resp.StatusCode, "no choices in response", nil)
	}

	out := Response{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
	}
	if out.Model == "" {
		out.Model = model
	}
	if parsed.Usage != nil {
		out.InputTokens = parsed.Usage.PromptTokens
		out.OutputTokens = parsed.Usage.CompletionTokens
	}
	return out, nil
}

func (b *OpenAIBackend) fail(status int, msg string, err error) *ProviderError {
	return &ProviderError{
		Provider:   b.Name(),
		Message:    msg,
		StatusCode: status,
		Err:        err,
	}
}
