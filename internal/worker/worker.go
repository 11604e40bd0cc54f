// Package worker processes case generation requests from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// CaseGenerator is the part of the case service the worker drives.
type CaseGenerator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (*cases.GenerateResult, error)
}

// Worker consumes domain.TopicCaseGenerate messages.
type Worker struct {
	bus    domain.EventBus
	cases  CaseGenerator
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, svc CaseGenerator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		cases:  svc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to generation requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCaseGenerate, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("worker started", "topic", domain.TopicCaseGenerate)
	return nil
}

// Reply is returned to requesters that set a reply subject.
type Reply struct {
	CaseID       string `json:"case_id,omitempty"`
	RiskScore    int    `json:"risk_score,omitempty"`
	Typology     string `json:"typology,omitempty"`
	Priority     string `json:"priority,omitempty"`
	Fallback     bool   `json:"fallback,omitempty"`
	AuditPayload string `json:"audit_payload,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.GenerateRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Error("failed to parse generate request",
			"message_id", msg.ID,
			"error", err,
		)
		w.record(false)
		w.reply(ctx, msg, Reply{Error: "invalid request payload"})
		return err
	}

	out, err := w.cases.Generate(ctx, req)
	if err != nil {
		w.logger.Error("case generation failed",
			"message_id", msg.ID,
			"trace_id", domain.TraceIDFrom(ctx),
			"error", err,
		)
		w.record(false)
		w.reply(ctx, msg, Reply{Error: err.Error()})
		return err
	}

	w.record(true)
	w.reply(ctx, msg, Reply{
		CaseID:       out.Case.ID,
		RiskScore:    out.Case.RiskScore,
		Typology:     out.Case.Typology,
		Priority:     out.Case.Priority,
		Fallback:     out.Case.Fallback,
		AuditPayload: out.Result.AuditPayload,
	})

	w.logger.Info("generate request processed",
		"message_id", msg.ID,
		"trace_id", domain.TraceIDFrom(ctx),
		"case_id", out.Case.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, r Reply) {
	if msg.ReplyTo == "" {
		return
	}
	payload, _ := json.Marshal(r)
	if err := w.bus.Respond(ctx, msg, payload); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("failed to send reply",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

func (w *Worker) record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed++
	} else {
		w.failed++
	}
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
