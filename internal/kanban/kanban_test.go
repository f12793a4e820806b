package kanban

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcusd/internal/events"
	"github.com/marcusd/internal/resilience"
	"github.com/marcusd/internal/types"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func fastBreaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute}
}

func TestSinkForwardsTaskEvents(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Event-ID") == "" {
			t.Error("event ID header missing (idempotency key)")
		}
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider, err := newWebhookProvider("planka", srv.URL, "token")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	bus := events.NewBus(10, nil, false)
	NewSink(provider, fastBreaker(), fastRetry()).Attach(bus)

	bus.Publish(context.Background(), events.New(events.TaskAssigned, "test", nil))
	bus.Publish(context.Background(), events.New(events.AgentRegistered, "test", nil)) // not forwarded

	if got := atomic.LoadInt32(&received); got != 1 {
		t.Errorf("deliveries = %d, want 1 (only task events forwarded)", got)
	}
}

func TestSinkRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider, _ := newWebhookProvider("github", srv.URL, "")
	bus := events.NewBus(10, nil, false)
	NewSink(provider, fastBreaker(), fastRetry()).Attach(bus)

	bus.Publish(context.Background(), events.New(events.TaskCreated, "test", nil))

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2 (one retry after 502)", got)
	}
	if bus.ErrorCount(events.TaskCreated) != 0 {
		t.Error("recovered delivery should not count as a handler error")
	}
}

func TestSinkClientErrorsAreFatalNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider, _ := newWebhookProvider("linear", srv.URL, "bad-key")
	bus := events.NewBus(10, nil, false)
	NewSink(provider, fastBreaker(), fastRetry()).Attach(bus)

	bus.Publish(context.Background(), events.New(events.TaskCompleted, "test", nil))

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (4xx is not retryable)", got)
	}
	if bus.ErrorCount(events.TaskCompleted) != 1 {
		t.Error("fatal delivery failure should be counted by the bus")
	}
}

func TestNewProvider(t *testing.T) {
	if p, err := NewProvider(types.KanbanConfig{Provider: types.KanbanNone}); p != nil || err != nil {
		t.Errorf("none provider: %v %v", p, err)
	}

	if _, err := NewProvider(types.KanbanConfig{Provider: types.KanbanPlanka}); err == nil {
		t.Error("planka without credentials must fail")
	}

	p, err := NewProvider(types.KanbanConfig{
		Provider:    types.KanbanGitHub,
		Credentials: map[string]string{"api_url": "https://example.test/ingest", "token": "t"},
	})
	if err != nil || p.Name() != "github" {
		t.Errorf("github provider: %v %v", p, err)
	}
}
