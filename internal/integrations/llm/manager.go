package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

type backendEntry struct {
	backend Backend
	breaker *CircuitBreaker
}

// Manager routes requests to the first usable backend in priority order and
// fails over on retriable errors.
type Manager struct {
	entries []backendEntry
	now     func() time.Time
}

// NewManager builds a manager over backends in priority order; the first is
// the primary. Every backend gets its own breaker with the given settings.
func NewManager(settings BreakerSettings, backends ...Backend) *Manager {
	settings = settings.withDefaults()
	m := &Manager{now: settings.Now}
	for _, b := range backends {
		if b == nil {
			continue
		}
		m.entries = append(m.entries, backendEntry{
			backend: b,
			breaker: NewCircuitBreaker(settings),
		})
	}
	return m
}

// Providers returns backend names in priority order.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		names = append(names, e.backend.Name())
	}
	return names
}

// Breaker returns the breaker for the named backend, or nil.
func (m *Manager) Breaker(provider string) *CircuitBreaker {
	for _, e := range m.entries {
		if e.backend.Name() == provider {
			return e.breaker
		}
	}
	return nil
}

// Execute sends req to the primary backend, falling back to the next usable
// backend when the primary's circuit is open or it fails with a retriable
// error. Non-retriable errors are returned as-is without fallback. Each
// backend is attempted at most once per call.
func (m *Manager) Execute(ctx context.Context, req Request) (Response, error) {
	var attempts []error
	for _, e := range m.entries {
		name := e.backend.Name()
		if !e.breaker.Allow() {
			log.Printf("llm execute skip provider=%s reason=circuit_open", name)
			attempts = append(attempts, fmt.Errorf("%s: circuit open", name))
			continue
		}

		start := m.now()
		resp, err := e.backend.Complete(ctx, req)
		latency := m.now().Sub(start)
		if err == nil {
			e.breaker.RecordSuccess()
			resp.Provider = name
			resp.Latency = latency
			log.Printf("llm execute ok provider=%s model=%s latency=%s tokens_in=%d tokens_out=%d", name, resp.Model, latency.Round(time.Millisecond), resp.InputTokens, resp.OutputTokens)
			return resp, nil
		}

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			e.breaker.Release()
			return Response{}, err
		}

		pe := asProviderError(name, err, latency)
		e.breaker.RecordFailure()
		if ctx.Err() != nil {
			log.Printf("llm execute stopped provider=%s reason=caller_context err=%v", name, ctx.Err())
			return Response{}, pe
		}
		if !IsRetriable(pe) {
			log.Printf("llm execute failed provider=%s retriable=false err=%v", name, pe)
			return Response{}, pe
		}
		log.Printf("llm execute failed provider=%s retriable=true err=%v", name, pe)
		attempts = append(attempts, pe)
	}
	return Response{}, &AllProvidersUnavailableError{Attempts: attempts}
}

func asProviderError(provider string, err error, latency time.Duration) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		out := *pe
		if out.Provider == "" {
			out.Provider = provider
		}
		out.Latency = latency
		return &out
	}
	return &ProviderError{
		Provider: provider,
		Message:  err.Error(),
		Latency:  latency,
		Err:      err,
	}
}

// HealthStatus reports one entry per backend in priority order.
func (m *Manager) HealthStatus() []ProviderHealth {
	out := make([]ProviderHealth, 0, len(m.entries))
	for _, e := range m.entries {
		snap := e.breaker.Snapshot()
		out = append(out, ProviderHealth{
			Provider:            e.backend.Name(),
			Status:              healthFromCircuit(snap.State),
			Circuit:             snap.State.String(),
			ConsecutiveFailures: snap.FailureCount,
			LastFailureAt:       snap.LastFailureAt,
			LastSuccessAt:       snap.LastSuccessAt,
		})
	}
	return out
}
