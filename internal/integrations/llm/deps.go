package llm

import "casetriage/internal/httpx"

var externalHTTPClient = httpx.ExternalHTTPClient()

const (
	defaultAnthropicModel     = "claude-sonnet-4-5-20250929"
	defaultAnthropicFastModel = "claude-haiku-4-5"
	defaultOpenAIModel        = "gpt-4o"
	defaultOpenAIFastModel    = "gpt-4o-mini"
	defaultOpenAIBaseURL      = "https://api.openai.com/v1"
)
