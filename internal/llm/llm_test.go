package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type stubBackend struct {
	name  string
	text  string
	err   error
	calls atomic.Int32
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func TestOllama(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var got ollamaRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/generate" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "## 1. SUBJECT INFORMATION", Done: true})
		}))
		defer srv.Close()

		o := NewOllama(domain.GenerationConfig{Endpoint: srv.URL + "/", Model: "llama3.1:8b", Temperature: 0.1})
		text, err := o.Generate(context.Background(), "prompt text")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if text != "## 1. SUBJECT INFORMATION" {
			t.Errorf("unexpected text %q", text)
		}
		if got.Model != "llama3.1:8b" || got.Prompt != "prompt text" || got.Stream {
			t.Errorf("unexpected request %+v", got)
		}
		if got.Options.Temperature != 0.1 {
			t.Errorf("expected temperature 0.1, got %f", got.Options.Temperature)
		}
		if o.Name() != "ollama:llama3.1:8b" {
			t.Errorf("unexpected name %s", o.Name())
		}
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
		}))
		defer srv.Close()

		_, err := NewOllama(domain.GenerationConfig{Endpoint: srv.URL, Model: "x"}).Generate(context.Background(), "p")
		if err == nil || !strings.Contains(err.Error(), "model not found") {
			t.Errorf("expected model not found error, got %v", err)
		}
	})

	t.Run("EmptyResponse", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":"  ","done":true}`))
		}))
		defer srv.Close()

		_, err := NewOllama(domain.GenerationConfig{Endpoint: srv.URL}).Generate(context.Background(), "p")
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("expected ErrEmptyResponse, got %v", err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		o := NewOllama(domain.GenerationConfig{Endpoint: srv.URL, Timeout: 20 * time.Millisecond})
		if _, err := o.Generate(context.Background(), "p"); err == nil {
			t.Error("expected timeout error")
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		o := NewOllama(domain.GenerationConfig{Endpoint: "http://127.0.0.1:1"})
		if _, err := o.Generate(context.Background(), "p"); err == nil {
			t.Error("expected connection error")
		}
	})
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Generate(context.Background(), "p")
	if !errors.Is(err, ErrBackendDisabled) {
		t.Errorf("expected ErrBackendDisabled, got %v", err)
	}
}

func TestBusBackend(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	local := &stubBackend{name: "stub", text: "remote narrative"}
	responder := NewResponder(b, local)
	if err := responder.Start(ctx); err != nil {
		t.Fatalf("responder start failed: %v", err)
	}
	defer responder.Stop()

	remote := NewBusBackend(b, domain.GenerationConfig{Model: "llama3.1:8b"})

	t.Run("Success", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		text, err := remote.Generate(reqCtx, "prompt")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if text != "remote narrative" {
			t.Errorf("unexpected text %q", text)
		}
		if remote.Name() != "bus:llama3.1:8b" {
			t.Errorf("unexpected name %s", remote.Name())
		}
	})

	t.Run("RemoteError", func(t *testing.T) {
		fb := bus.NewChannelBus(10)
		defer fb.Close()

		failing := NewResponder(fb, &stubBackend{name: "stub", err: errors.New("gpu out of memory")})
		if err := failing.Start(ctx); err != nil {
			t.Fatalf("responder start failed: %v", err)
		}
		defer failing.Stop()

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		_, err := NewBusBackend(fb, domain.GenerationConfig{Model: "m"}).Generate(reqCtx, "prompt")
		if err == nil || !strings.Contains(err.Error(), "gpu out of memory") {
			t.Errorf("expected remote error, got %v", err)
		}
	})

	t.Run("NoResponder", func(t *testing.T) {
		empty := bus.NewChannelBus(10)
		defer empty.Close()

		reqCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		if _, err := NewBusBackend(empty, domain.GenerationConfig{}).Generate(reqCtx, "p"); err == nil {
			t.Error("expected error without responder")
		}
	})
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	inner := &stubBackend{name: "stub", text: "narrative"}
	c := NewCached(inner, cache.NewLRUCache(10), time.Minute)

	for i := 0; i < 3; i++ {
		text, err := c.Generate(ctx, "same prompt")
		if err != nil || text != "narrative" {
			t.Fatalf("call %d: got %q, %v", i, text, err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected 1 backend call, got %d", inner.calls.Load())
	}

	_, _ = c.Generate(ctx, "other prompt")
	if inner.calls.Load() != 2 {
		t.Errorf("expected 2 backend calls, got %d", inner.calls.Load())
	}

	if c.Key("a") == c.Key("b") {
		t.Error("different prompts must have different keys")
	}

	t.Run("FailuresNotCached", func(t *testing.T) {
		failing := &stubBackend{name: "failing", err: errors.New("down")}
		fc := NewCached(failing, cache.NewLRUCache(10), time.Minute)
		_, _ = fc.Generate(ctx, "p")
		_, _ = fc.Generate(ctx, "p")
		if failing.calls.Load() != 2 {
			t.Errorf("expected failures to reach the backend each time, got %d calls", failing.calls.Load())
		}
	})
}

func TestBreaker(t *testing.T) {
	ctx := context.Background()
	inner := &stubBackend{name: "stub", err: errors.New("connection refused")}
	b := NewBreaker(inner, cache.NewLRUCache(10), 2, 100*time.Millisecond)

	for i := 0; i < 2; i++ {
		if _, err := b.Generate(ctx, "p"); errors.Is(err, ErrBackendCircuitOpen) {
			t.Fatalf("call %d: circuit opened too early", i)
		}
	}

	if !b.Open(ctx) {
		t.Fatal("expected circuit to be open after threshold failures")
	}
	if _, err := b.Generate(ctx, "p"); !errors.Is(err, ErrBackendCircuitOpen) {
		t.Errorf("expected ErrBackendCircuitOpen, got %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("expected open circuit to skip backend, got %d calls", inner.calls.Load())
	}

	time.Sleep(150 * time.Millisecond)
	inner.err = nil
	inner.text = "recovered"

	text, err := b.Generate(ctx, "p")
	if err != nil || text != "recovered" {
		t.Errorf("expected recovery after window, got %q, %v", text, err)
	}
}

func TestNew(t *testing.T) {
	c := cache.NewLRUCache(10)

	t.Run("Disabled", func(t *testing.T) {
		b, err := New(domain.GenerationConfig{Backend: domain.BackendDisabled}, c, nil)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := b.(Disabled); !ok {
			t.Errorf("expected Disabled, got %T", b)
		}
	})

	t.Run("OllamaWithDecorators", func(t *testing.T) {
		b, err := New(domain.GenerationConfig{
			Backend:          domain.BackendOllama,
			Model:            "llama3.1:8b",
			CacheTTL:         time.Hour,
			BreakerThreshold: 3,
		}, c, nil)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := b.(*Cached); !ok {
			t.Errorf("expected outermost Cached, got %T", b)
		}
		if b.Name() != "ollama:llama3.1:8b" {
			t.Errorf("unexpected name %s", b.Name())
		}
	})

	t.Run("BusRequiresEventBus", func(t *testing.T) {
		if _, err := New(domain.GenerationConfig{Backend: domain.BackendBus}, c, nil); err == nil {
			t.Error("expected error without event bus")
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.GenerationConfig{Backend: "openai"}, c, nil); err == nil {
			t.Error("expected error for unsupported backend")
		}
	})
}
