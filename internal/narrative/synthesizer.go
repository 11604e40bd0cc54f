// Package narrative assembles SAR prompts, calls the generation backend and
// falls back to a deterministic template when the backend cannot be used.
package narrative

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
)

// ErrMissingSections marks backend output that lacks the required headings.
var ErrMissingSections = errors.New("backend output missing required sections")

// Synthesizer produces narratives. It is safe for concurrent use.
type Synthesizer struct {
	backend llm.Backend
	timeout time.Duration
	logger  *slog.Logger
}

// NewSynthesizer creates a synthesizer. A nil backend means offline mode.
func NewSynthesizer(backend llm.Backend, timeout time.Duration, logger *slog.Logger) *Synthesizer {
	if backend == nil {
		backend = llm.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{backend: backend, timeout: timeout, logger: logger}
}

// Backend returns the configured backend name.
func (s *Synthesizer) Backend() string {
	return s.backend.Name()
}

// Synthesize calls the backend once. Any failure, including output without the
// required sections, yields a fallback outcome; it never returns an error.
func (s *Synthesizer) Synthesize(ctx context.Context, req domain.GenerateRequest, cls domain.Classification, ret domain.Retrieval, esc domain.Escalation) domain.GenerationOutcome {
	prompt := BuildPrompt(req, cls, ret, esc)

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.backend.Generate(callCtx, prompt)
	if err == nil && !HasRequiredSections(text) {
		err = ErrMissingSections
	}
	if err != nil {
		s.logger.Warn("narrative generation failed, using fallback template",
			"backend", s.backend.Name(),
			"error", err,
		)
		return domain.GenerationOutcome{
			Kind:   domain.OutcomeFallback,
			Text:   Fallback(req, cls, esc),
			Reason: err.Error(),
		}
	}

	return domain.GenerationOutcome{
		Kind:    domain.OutcomeLive,
		Text:    strings.TrimSpace(text),
		Backend: s.backend.Name(),
	}
}
