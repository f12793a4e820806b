// Package classifier defines the contract with the external task
// classifier and a circuit-breaker-wrapped HTTP client for it.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/resilience"
	"github.com/marcusd/internal/tasks"
	"github.com/marcusd/internal/types"
)

// Result is the classifier's verdict on a (task, agent) pairing
type Result struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Classifier scores how well an agent fits a task. Classify is a
// suspension point; implementations must return a recoverable error when
// the service is unavailable so callers fall back to deterministic scoring.
type Classifier interface {
	Classify(ctx context.Context, task *tasks.Task, agent *types.Agent) (*Result, error)
	Enabled() bool
}

// Disabled is the no-op classifier used when AI-assisted matching is off
type Disabled struct{}

func (Disabled) Classify(ctx context.Context, task *tasks.Task, agent *types.Agent) (*Result, error) {
	return nil, errs.New(errs.KindIntegration, "classifier disabled")
}

func (Disabled) Enabled() bool { return false }

// HTTPClassifier calls the external classifier service over HTTP, with
// retry inside a circuit breaker so a down service fails fast instead of
// delaying every assignment
type HTTPClassifier struct {
	url     string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewHTTPClassifier builds a client for the given endpoint
func NewHTTPClassifier(url string, breakerCfg resilience.BreakerConfig, retryCfg resilience.RetryConfig) *HTTPClassifier {
	return &HTTPClassifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.NewCircuitBreaker("classifier", breakerCfg),
		retry:   retryCfg,
	}
}

func (c *HTTPClassifier) Enabled() bool { return true }

// Classify posts the pairing to the service and decodes its score
func (c *HTTPClassifier) Classify(ctx context.Context, task *tasks.Task, agent *types.Agent) (*Result, error) {
	var result *Result
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, c.retry, "classifier", func(ctx context.Context) error {
			r, err := c.post(ctx, task, agent)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *HTTPClassifier) post(ctx context.Context, task *tasks.Task, agent *types.Agent) (*Result, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"task":  task,
		"agent": agent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegration, err, "failed to build classify request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindIntegration, err, "classifier unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Newf(errs.KindIntegration, "classifier returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errs.Wrap(errs.KindIntegration, err, "failed to decode classifier response")
	}
	return &result, nil
}
