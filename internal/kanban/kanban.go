// Package kanban mirrors core task events onto an external board. The
// provider is an external collaborator: calls to it are wrapped in retry
// and a circuit breaker, and its Apply must be idempotent.
package kanban

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/events"
	"github.com/marcusd/internal/resilience"
	"github.com/marcusd/internal/types"
)

// Provider applies one core event to the board. Implementations return a
// recoverable (Integration/Transient) error for retryable failures and a
// non-recoverable error for fatal ones.
type Provider interface {
	Name() string
	Apply(ctx context.Context, event events.Event) error
}

// forwarded are the event types mirrored to the board
var forwarded = map[events.Type]bool{
	events.TaskCreated:    true,
	events.TaskAssigned:   true,
	events.TaskStarted:    true,
	events.TaskCompleted:  true,
	events.TaskBlocked:    true,
	events.LeaseReclaimed: true,
}

// Sink subscribes to a project's bus and pushes events to the provider
type Sink struct {
	provider Provider
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
}

// NewSink wraps a provider in the standard resilience stack
func NewSink(provider Provider, breakerCfg resilience.BreakerConfig, retryCfg resilience.RetryConfig) *Sink {
	return &Sink{
		provider: provider,
		breaker:  resilience.NewCircuitBreaker("kanban-"+provider.Name(), breakerCfg),
		retry:    retryCfg,
	}
}

// Attach registers the sink on a bus. A failing board never blocks the
// core: errors are logged and counted by the bus.
func (s *Sink) Attach(bus *events.Bus) {
	bus.Subscribe(events.TypeAll, func(ctx context.Context, e events.Event) error {
		if !forwarded[e.Type] {
			return nil
		}
		return s.breaker.Do(ctx, func(ctx context.Context) error {
			return resilience.Retry(ctx, s.retry, "kanban", func(ctx context.Context) error {
				return s.provider.Apply(ctx, e)
			})
		})
	})
}

// NewProvider builds the configured provider, or nil for "none"
func NewProvider(cfg types.KanbanConfig) (Provider, error) {
	switch cfg.Provider {
	case types.KanbanNone, "":
		return nil, nil
	case types.KanbanPlanka:
		return newWebhookProvider("planka", cfg.Credentials["base_url"], cfg.Credentials["token"])
	case types.KanbanGitHub:
		return newWebhookProvider("github", cfg.Credentials["api_url"], cfg.Credentials["token"])
	case types.KanbanLinear:
		return newWebhookProvider("linear", cfg.Credentials["api_url"], cfg.Credentials["api_key"])
	default:
		return nil, errs.Newf(errs.KindConfiguration, "unknown kanban provider %q", cfg.Provider)
	}
}

// webhookProvider posts events as JSON to the board's ingestion endpoint.
// Event IDs make retried deliveries idempotent on the receiving side.
type webhookProvider struct {
	name   string
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(name, url, token string) (*webhookProvider, error) {
	if url == "" {
		return nil, errs.Newf(errs.KindConfiguration, "kanban provider %s needs a URL credential", name)
	}
	return &webhookProvider{
		name:   name,
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *webhookProvider) Name() string { return p.name }

// Apply delivers one event. 5xx and transport failures are retryable;
// 4xx responses are fatal misconfiguration.
func (p *webhookProvider) Apply(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(errs.KindIntegration, err, "failed to build board request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindIntegration, err, "board unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return errs.Newf(errs.KindIntegration, "board returned %d", resp.StatusCode)
	default:
		log.Printf("[KANBAN] %s rejected event %s with %d", p.name, event.ID, resp.StatusCode)
		return errs.Newf(errs.KindConfiguration, "board rejected event with %d", resp.StatusCode)
	}
}
