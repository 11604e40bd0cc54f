// Package llm provides narrative generation backends. No backend retries:
// a failed call is reported to the caller, which falls back to a template.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrBackendDisabled is returned by the offline backend.
	ErrBackendDisabled = errors.New("generation backend disabled")

	// ErrBackendCircuitOpen is returned while the failure breaker is open.
	ErrBackendCircuitOpen = errors.New("generation backend circuit open")

	// ErrEmptyResponse is returned when a backend produces no text.
	ErrEmptyResponse = errors.New("generation backend returned empty response")
)

// Backend generates text for a prompt.
type Backend interface {
	// Name identifies the backend and model, e.g. "ollama:llama3.1:8b".
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Disabled is the offline backend. Every call fails with ErrBackendDisabled.
type Disabled struct{}

// Name implements Backend.
func (Disabled) Name() string { return "disabled" }

// Generate implements Backend.
func (Disabled) Generate(context.Context, string) (string, error) {
	return "", ErrBackendDisabled
}

// New builds the configured backend, wrapped in the breaker and cache decorators
// when enabled. bus may be nil unless the bus backend is selected.
func New(cfg domain.GenerationConfig, cache domain.Cache, bus domain.EventBus) (Backend, error) {
	var b Backend
	switch cfg.Backend {
	case domain.BackendOllama:
		b = NewOllama(cfg)
	case domain.BackendBus:
		if bus == nil {
			return nil, fmt.Errorf("bus backend requires an event bus")
		}
		b = NewBusBackend(bus, cfg)
	case domain.BackendDisabled, "":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported generation backend: %s", cfg.Backend)
	}

	if cache != nil && cfg.BreakerThreshold > 0 {
		b = NewBreaker(b, cache, cfg.BreakerThreshold, cfg.BreakerWindow)
	}
	if cache != nil && cfg.CacheTTL > 0 {
		b = NewCached(b, cache, cfg.CacheTTL)
	}

	slog.Info("generation backend configured",
		"backend", b.Name(),
		"timeout", cfg.Timeout.String(),
		"cache_ttl", cfg.CacheTTL.String(),
		"breaker_threshold", cfg.BreakerThreshold,
	)
	return b, nil
}
