// Package llm wraps the AI backends behind a single Execute call with
// per-backend circuit breakers and automatic failover.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ModelTier selects a model class; each backend maps it to a concrete model.
type ModelTier int

const (
	ModelDefault ModelTier = iota
	ModelFast
	ModelAdvanced
)

func (t ModelTier) String() string {
	switch t {
	case ModelFast:
		return "fast"
	case ModelAdvanced:
		return "advanced"
	default:
		return "default"
	}
}

// ModelSet holds the concrete model name for every tier of a backend.
type ModelSet struct {
	Default  string
	Fast     string
	Advanced string
}

func (m ModelSet) Resolve(tier ModelTier) string {
	switch tier {
	case ModelFast:
		if m.Fast != "" {
			return m.Fast
		}
	case ModelAdvanced:
		if m.Advanced != "" {
			return m.Advanced
		}
	}
	return m.Default
}

const defaultMaxTokens = 1024

type Request struct {
	SystemPrompt string
	Prompt       string
	Model        ModelTier
	MaxTokens    int
	Temperature  *float64
}

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return defaultMaxTokens
}

type Response struct {
	Content      string
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Latency      time.Duration
}

// Backend is one AI provider. Implementations return *ProviderError on
// failure so the manager can classify it.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Latency    time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// AllProvidersUnavailableError carries the error of every backend that was
// skipped or attempted.
type AllProvidersUnavailableError struct {
	Attempts []error
}

func (e *AllProvidersUnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllProvidersUnavailable.Error() + ": no providers configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, err := range e.Attempts {
		parts = append(parts, err.Error())
	}
	return ErrAllProvidersUnavailable.Error() + ": " + strings.Join(parts, "; ")
}

func (e *AllProvidersUnavailableError) Is(target error) bool {
	return target == ErrAllProvidersUnavailable
}

func (e *AllProvidersUnavailableError) Unwrap() []error { return e.Attempts }

var retriableMessageRe = regexp.MustCompile(`(?i)rate.?limit|too many requests|overloaded|capacity|time(?:d)?\s?out|deadline exceeded|temporarily unavailable|service unavailable|bad gateway|connection reset|connection refused|\b5\d\d\b`)

// IsRetriable reports whether err looks like a provider outage (rate limit,
// overload, timeout, 5xx) rather than a problem with the request itself.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode > 0 {
		switch {
		case pe.StatusCode == http.StatusTooManyRequests,
			pe.StatusCode == http.StatusRequestTimeout,
			pe.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return retriableMessageRe.MatchString(err.Error())
}
