// Package assignment picks the next task for a requesting agent under
// dependency, lease, and capability constraints.
package assignment

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/marcusd/internal/classifier"
	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/events"
	"github.com/marcusd/internal/leases"
	"github.com/marcusd/internal/stringutil"
	"github.com/marcusd/internal/tasks"
	"github.com/marcusd/internal/types"
)

// Engine selects and assigns tasks for one project. The engine's mutex is
// the per-project write lock held across the pending -> assigned
// transition, which keeps task status changes linearizable.
type Engine struct {
	projectID string
	pool      *tasks.Pool
	leases    *leases.Manager
	bus       *events.Bus
	scorer    classifier.Classifier
	leaseTTL  time.Duration

	mu sync.Mutex
}

// NewEngine creates an assignment engine over a project's task pool
func NewEngine(projectID string, pool *tasks.Pool, lm *leases.Manager, bus *events.Bus, scorer classifier.Classifier, leaseTTL time.Duration) *Engine {
	if scorer == nil {
		scorer = classifier.Disabled{}
	}
	return &Engine{
		projectID: projectID,
		pool:      pool,
		leases:    lm,
		bus:       bus,
		scorer:    scorer,
		leaseTTL:  leaseTTL,
	}
}

// RequestNext returns the best eligible task for the agent, assigned and
// leased, or (nil, nil) when no work is eligible. A busy agent is a
// business-rule violation.
func (e *Engine) RequestNext(ctx context.Context, agent *types.Agent) (*tasks.Task, error) {
	if held := e.leases.HeldBy(agent.ID); held != nil {
		return nil, errs.Newf(errs.KindBusinessLogic, "agent %s already holds a lease for task %s", agent.ID, held.TaskID).
			WithOp("request_next_task").WithProject(e.projectID).WithAgent(agent.ID).WithTask(held.TaskID)
	}

	// One retry absorbs the internal race where another request takes the
	// selected task between scoring and the lease grant
	for attempt := 0; attempt < 2; attempt++ {
		task, err := e.tryAssign(ctx, agent)
		if err == nil {
			if task != nil {
				// Published outside the engine lock so subscribers (board
				// sync, bridges) never run under it
				e.bus.Publish(ctx, events.New(events.TaskAssigned, "assignment", map[string]interface{}{
					"project_id": e.projectID,
					"task_id":    task.ID,
					"agent_id":   agent.ID,
					"lease_id":   task.LeaseID,
				}))
			}
			return task, nil
		}
		if !leases.IsConflict(err) {
			return nil, err
		}
		log.Printf("[ASSIGN] lease conflict for agent %s (attempt %d), retrying", agent.ID, attempt+1)
	}

	e.bus.Publish(ctx, events.New(events.AssignmentFailed, "assignment", map[string]interface{}{
		"project_id": e.projectID,
		"agent_id":   agent.ID,
		"reason":     "lease conflict",
	}))
	return nil, nil
}

// tryAssign scores candidates and attempts one assignment. Scoring runs
// outside the engine lock (the classifier call may suspend on I/O); the
// lock covers only the pending -> assigned transition, with eligibility
// re-verified under it.
func (e *Engine) tryAssign(ctx context.Context, agent *types.Agent) (*tasks.Task, error) {
	candidates := e.eligible(agent)
	if len(candidates) == 0 {
		return nil, nil
	}

	best := e.pick(ctx, agent, candidates)

	e.mu.Lock()
	defer e.mu.Unlock()

	if best.Status != tasks.StatusPending || !e.pool.DependenciesCompleted(best) {
		return nil, errs.Newf(errs.KindBusinessLogic, "task %s taken during scoring", best.ID).
			WithOp("request_next_task").WithTask(best.ID).WithExtra("conflict", "lease")
	}

	lease, err := e.leases.Grant(best.ID, agent.ID, e.leaseTTL)
	if err != nil {
		return nil, err
	}

	if err := best.TransitionTo(tasks.StatusAssigned); err != nil {
		// Status raced; release the provisional lease and surface conflict
		e.leases.Complete(lease.ID)
		return nil, errs.Wrap(errs.KindBusinessLogic, err, "task no longer assignable").
			WithOp("request_next_task").WithTask(best.ID).WithExtra("conflict", "lease")
	}
	best.AssignedAgentID = agent.ID
	best.LeaseID = lease.ID
	return best, nil
}

// eligible returns pending tasks whose dependencies are all completed and
// which no other agent holds
func (e *Engine) eligible(agent *types.Agent) []*tasks.Task {
	var out []*tasks.Task
	for _, t := range e.pool.ByStatus(tasks.StatusPending) {
		if !e.pool.DependenciesCompleted(t) {
			continue
		}
		if holder := e.leases.HolderOf(t.ID); holder != nil && holder.AgentID != agent.ID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// pick applies the deterministic tiebreak chain, optionally letting the
// external classifier replace the capability component. The classifier is
// the only suspension point; its failure falls back to pure computation
// indistinguishably.
func (e *Engine) pick(ctx context.Context, agent *types.Agent, candidates []*tasks.Task) *tasks.Task {
	capScores := e.capabilityScores(ctx, agent, candidates)

	best := candidates[0]
	bestCap := capScores[best.ID]
	for _, c := range candidates[1:] {
		if e.better(c, capScores[c.ID], best, bestCap) {
			best = c
			bestCap = capScores[c.ID]
		}
	}
	return best
}

// better implements the tiebreak order: priority, capability match,
// dependency depth (smaller wins), sibling order, task ID
func (e *Engine) better(a *tasks.Task, aCap float64, b *tasks.Task, bCap float64) bool {
	if pa, pb := a.Priority.Score(), b.Priority.Score(); pa != pb {
		return pa > pb
	}
	if aCap != bCap {
		return aCap > bCap
	}
	if da, db := e.pool.Depth(a.ID), e.pool.Depth(b.ID); da != db {
		return da < db
	}
	if a.ParentTaskID != "" && a.ParentTaskID == b.ParentTaskID && a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}

// capabilityScores computes the match score for every candidate. With the
// classifier enabled it rescores each pairing; any failure reverts the
// whole batch to deterministic scores.
func (e *Engine) capabilityScores(ctx context.Context, agent *types.Agent, candidates []*tasks.Task) map[string]float64 {
	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.ID] = MatchScore(agent.Capabilities, c)
	}

	if !e.scorer.Enabled() {
		return scores
	}

	rescored := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		result, err := e.scorer.Classify(ctx, c, agent)
		if err != nil {
			log.Printf("[ASSIGN] classifier unavailable, using deterministic scores: %v", err)
			return scores
		}
		rescored[c.ID] = result.Score
	}
	return rescored
}

// MatchScore is the deterministic capability match:
// |capabilities ∩ keywords| / max(1, |keywords|), case-insensitive
func MatchScore(capabilities []string, task *tasks.Task) float64 {
	keywords := task.KeywordSet()
	if len(keywords) == 0 {
		return 0
	}

	matched := 0
	for _, capability := range capabilities {
		if keywords[stringutil.NormalizeToken(capability)] {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}
