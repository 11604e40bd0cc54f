package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GenerateRequest is the payload sent on domain.TopicLLMGenerate.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// GenerateReply is the payload returned by a Responder.
type GenerateReply struct {
	Text    string `json:"text,omitempty"`
	Backend string `json:"backend,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BusBackend delegates generation to a Responder over the event bus.
type BusBackend struct {
	bus   domain.EventBus
	model string
}

// NewBusBackend creates a backend that sends requests on domain.TopicLLMGenerate.
func NewBusBackend(bus domain.EventBus, cfg domain.GenerationConfig) *BusBackend {
	return &BusBackend{bus: bus, model: cfg.Model}
}

// Name implements Backend.
func (b *BusBackend) Name() string {
	return "bus:" + b.model
}

// Generate implements Backend. The caller's context bounds the wait.
func (b *BusBackend) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(GenerateRequest{Model: b.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := b.bus.Request(ctx, domain.TopicLLMGenerate, payload)
	if err != nil {
		return "", fmt.Errorf("remote generation failed: %w", err)
	}

	var reply GenerateReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("failed to decode reply: %w", err)
	}
	if reply.Error != "" {
		return "", errors.New(reply.Error)
	}
	if strings.TrimSpace(reply.Text) == "" {
		return "", ErrEmptyResponse
	}
	return reply.Text, nil
}

// Responder answers generation requests from the bus with a local backend.
type Responder struct {
	bus     domain.EventBus
	backend Backend
	sub     domain.Subscription
}

// NewResponder creates a responder for the given local backend.
func NewResponder(bus domain.EventBus, backend Backend) *Responder {
	return &Responder{bus: bus, backend: backend}
}

// Start subscribes to generation requests.
func (r *Responder) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, domain.TopicLLMGenerate, r.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicLLMGenerate, err)
	}
	r.sub = sub

	slog.Info("generation responder started", "backend", r.backend.Name())
	return nil
}

// Stop unsubscribes the responder.
func (r *Responder) Stop() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}

func (r *Responder) handle(ctx context.Context, msg *domain.Message) error {
	var req GenerateRequest
	reply := GenerateReply{Backend: r.backend.Name()}

	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		reply.Error = fmt.Sprintf("invalid request: %v", err)
	} else if text, err := r.backend.Generate(ctx, req.Prompt); err != nil {
		reply.Error = err.Error()
	} else {
		reply.Text = text
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return r.bus.Respond(ctx, msg, data)
}
