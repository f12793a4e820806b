// Package project multiplexes per-project coordination state behind a
// single active project.
package project

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/marcusd/internal/assignment"
	"github.com/marcusd/internal/classifier"
	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/events"
	"github.com/marcusd/internal/leases"
	"github.com/marcusd/internal/persistence"
	"github.com/marcusd/internal/tasks"
	"github.com/marcusd/internal/types"
)

// Deps are the process-wide collaborators every context shares
type Deps struct {
	Store      persistence.Store
	Classifier classifier.Classifier
	Config     *types.Config

	// Subscribers attached to every new context's bus (kanban sink,
	// websocket hub, NATS bridge)
	Subscribers []func(bus *events.Bus)
}

// taskRecord is the persisted shape of one task
type taskRecord struct {
	ProjectID string      `json:"project_id"`
	Task      *tasks.Task `json:"task"`
}

// leaseRecord is the persisted shape of one lease
type leaseRecord struct {
	ProjectID string        `json:"project_id"`
	Lease     *leases.Lease `json:"lease"`
}

// Snapshot is the persisted per-project summary, refreshed on save
type Snapshot struct {
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"project_name"`
	Description    string    `json:"description,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Trigger        string    `json:"trigger"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	ActiveAgents   int       `json:"active_agents"`
}

// Context owns one project's coordination state: task pool, agent
// registry, lease manager, event bus, and assignment engine
type Context struct {
	ProjectID   string
	Name        string
	Description string
	CreatedAt   time.Time

	Pool   *tasks.Pool
	Leases *leases.Manager
	Bus    *events.Bus
	Engine *assignment.Engine

	store     persistence.Store
	reclaimer *leases.Reclaimer

	mu           sync.Mutex
	agents       map[string]*types.Agent
	lastAccessed time.Time
	connected    bool
	closed       bool
}

// NewContext builds a fresh context and wires its subsystems together
func NewContext(projectID, name, description string, deps Deps) *Context {
	cfg := deps.Config
	bus := events.NewBus(cfg.EventBus.HistorySize, deps.Store, cfg.EventBus.PersistEvents)
	for _, attach := range deps.Subscribers {
		attach(bus)
	}

	pool := tasks.NewPool()
	lm := leases.NewManager()

	pc := &Context{
		ProjectID:    projectID,
		Name:         name,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
		Pool:         pool,
		Leases:       lm,
		Bus:          bus,
		Engine:       assignment.NewEngine(projectID, pool, lm, bus, deps.Classifier, cfg.LeaseTTL()),
		store:        deps.Store,
		agents:       make(map[string]*types.Agent),
		lastAccessed: time.Now().UTC(),
		connected:    true,
	}

	pc.reclaimer = leases.NewReclaimer(lm, cfg.ReclaimInterval(), pc.onReclaim)
	return pc
}

// Start launches the context's background reclaim loop
func (c *Context) Start(ctx context.Context) {
	c.reclaimer.Start(ctx)
}

// Touch refreshes the LRU access time
func (c *Context) Touch() {
	c.mu.Lock()
	c.lastAccessed = time.Now().UTC()
	c.mu.Unlock()
}

// onReclaim runs after the reclaim loop reclaims an expired lease: the
// task returns to the pending pool and the lifecycle events go out
func (c *Context) onReclaim(l *leases.Lease) {
	ctx := context.Background()

	if t := c.Pool.Get(l.TaskID); t != nil {
		t.Status = tasks.StatusPending
		t.AssignedAgentID = ""
		t.LeaseID = ""
		c.persistTask(ctx, t)
	}
	c.persistLease(ctx, l)

	c.Bus.Publish(ctx, events.New(events.LeaseExpired, "leases", map[string]interface{}{
		"project_id": c.ProjectID,
		"task_id":    l.TaskID,
		"agent_id":   l.AgentID,
		"lease_id":   l.ID,
	}))
	c.Bus.Publish(ctx, events.New(events.LeaseReclaimed, "leases", map[string]interface{}{
		"project_id": c.ProjectID,
		"task_id":    l.TaskID,
		"agent_id":   l.AgentID,
		"lease_id":   l.ID,
	}))
}

// SubmitTasks repairs the submitted graph, adds it to the pool, persists
// every task, and publishes TaskCreated for each. Returns the repair
// warnings.
func (c *Context) SubmitTasks(ctx context.Context, list []*tasks.Task) ([]string, error) {
	warnings := tasks.FixTasks(list)

	c.Pool.AddAll(list)
	for _, t := range list {
		if err := c.persistTask(ctx, t); err != nil {
			return warnings, err
		}
		c.Bus.Publish(ctx, events.New(events.TaskCreated, "tasks", map[string]interface{}{
			"project_id": c.ProjectID,
			"task_id":    t.ID,
			"name":       t.Name,
		}))
	}
	return warnings, nil
}

// RequestNextTask runs the assignment engine for an agent
func (c *Context) RequestNextTask(ctx context.Context, agentID string) (*tasks.Task, error) {
	agent := c.GetAgent(agentID)
	if agent == nil {
		return nil, errs.Newf(errs.KindBusinessLogic, "agent %s not registered", agentID).
			WithOp("request_next_task").WithProject(c.ProjectID).WithAgent(agentID)
	}

	task, err := c.Engine.RequestNext(ctx, agent)
	if err != nil || task == nil {
		return nil, err
	}

	c.mu.Lock()
	agent.Status = types.AgentWorking
	agent.CurrentTaskID = task.ID
	c.mu.Unlock()

	c.persistTask(ctx, task)
	if l := c.Leases.Get(task.LeaseID); l != nil {
		c.persistLease(ctx, l)
	}
	return task, nil
}

// ReportProgress applies a task status report from an agent
func (c *Context) ReportProgress(ctx context.Context, taskID string, status tasks.Status) error {
	t := c.Pool.Get(taskID)
	if t == nil {
		return fmt.Errorf("report progress %s: %w", taskID, errs.ErrNotFound)
	}

	switch status {
	case tasks.StatusInProgress:
		if t.Status != tasks.StatusInProgress {
			if err := t.TransitionTo(tasks.StatusInProgress); err != nil {
				return errs.Wrap(errs.KindBusinessLogic, err, "invalid progress report").
					WithOp("report_task_progress").WithProject(c.ProjectID).WithTask(taskID)
			}
			c.Bus.Publish(ctx, events.New(events.TaskStarted, "tasks", c.taskEvent(t)))
		}

	case tasks.StatusCompleted:
		if t.LeaseID != "" {
			if l, err := c.Leases.Complete(t.LeaseID); err == nil {
				c.persistLease(ctx, l)
			}
		}
		if err := t.TransitionTo(tasks.StatusCompleted); err != nil {
			return errs.Wrap(errs.KindBusinessLogic, err, "invalid completion report").
				WithOp("report_task_progress").WithProject(c.ProjectID).WithTask(taskID)
		}
		c.releaseAgent(t.AssignedAgentID)
		c.Bus.Publish(ctx, events.New(events.TaskCompleted, "tasks", c.taskEvent(t)))

	case tasks.StatusBlocked:
		if err := t.TransitionTo(tasks.StatusBlocked); err != nil {
			return errs.Wrap(errs.KindBusinessLogic, err, "invalid blocker report").
				WithOp("report_task_progress").WithProject(c.ProjectID).WithTask(taskID)
		}
		c.Bus.Publish(ctx, events.New(events.TaskBlocked, "tasks", c.taskEvent(t)))

	case tasks.StatusFailed:
		if t.LeaseID != "" {
			if l, err := c.Leases.Expire(t.LeaseID); err == nil {
				c.persistLease(ctx, l)
			}
		}
		if err := t.TransitionTo(tasks.StatusFailed); err != nil {
			return errs.Wrap(errs.KindBusinessLogic, err, "invalid failure report").
				WithOp("report_task_progress").WithProject(c.ProjectID).WithTask(taskID)
		}
		c.releaseAgent(t.AssignedAgentID)

	default:
		return errs.Newf(errs.KindBusinessLogic, "unsupported progress status %q", status).
			WithOp("report_task_progress").WithProject(c.ProjectID).WithTask(taskID)
	}

	return c.persistTask(ctx, t)
}

func (c *Context) taskEvent(t *tasks.Task) map[string]interface{} {
	return map[string]interface{}{
		"project_id": c.ProjectID,
		"task_id":    t.ID,
		"agent_id":   t.AssignedAgentID,
		"status":     string(t.Status),
	}
}

func (c *Context) releaseAgent(agentID string) {
	if agentID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.agents[agentID]; ok {
		a.Status = types.AgentIdle
		a.CurrentTaskID = ""
	}
}

// RegisterAgent adds (or refreshes) an agent in the registry
func (c *Context) RegisterAgent(ctx context.Context, agent *types.Agent) {
	now := time.Now().UTC()
	c.mu.Lock()
	if existing, ok := c.agents[agent.ID]; ok {
		existing.Name = agent.Name
		existing.Capabilities = agent.Capabilities
		existing.LastHeartbeat = now
		c.mu.Unlock()
		return
	}
	agent.RegisteredAt = now
	agent.LastHeartbeat = now
	if agent.Status == "" {
		agent.Status = types.AgentIdle
	}
	c.agents[agent.ID] = agent
	c.mu.Unlock()

	c.Bus.Publish(ctx, events.New(events.AgentRegistered, "agents", map[string]interface{}{
		"project_id": c.ProjectID,
		"agent_id":   agent.ID,
		"name":       agent.Name,
	}))
}

// GetAgent returns a registered agent, or nil
func (c *Context) GetAgent(agentID string) *types.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agents[agentID]
}

// Heartbeat refreshes an agent's liveness timestamp
func (c *Context) Heartbeat(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.agents[agentID]; ok {
		a.LastHeartbeat = time.Now().UTC()
		if a.Status == types.AgentOffline {
			a.Status = types.AgentIdle
		}
	}
}

// SweepStaleAgents marks agents offline when their last heartbeat is older
// than the threshold. Returns how many were marked.
func (c *Context) SweepStaleAgents(threshold time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	marked := 0
	cutoff := time.Now().UTC().Add(-threshold)
	for _, a := range c.agents {
		if a.Status != types.AgentOffline && a.LastHeartbeat.Before(cutoff) {
			a.Status = types.AgentOffline
			marked++
		}
	}
	return marked
}

// Agents returns a copy of the registry
func (c *Context) Agents() []*types.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		copy := *a
		out = append(out, &copy)
	}
	return out
}

// Status summarizes the project for get_project_status
func (c *Context) Status() map[string]interface{} {
	counts := c.Pool.Counts()
	total := c.Pool.Len()
	completed := counts[tasks.StatusCompleted]

	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total)
	}

	c.mu.Lock()
	activeAgents := 0
	for _, a := range c.agents {
		if a.Status != types.AgentOffline {
			activeAgents++
		}
	}
	c.mu.Unlock()

	return map[string]interface{}{
		"project_id":      c.ProjectID,
		"project_name":    c.Name,
		"total_tasks":     total,
		"completed":       completed,
		"in_progress":     counts[tasks.StatusInProgress],
		"assigned":        counts[tasks.StatusAssigned],
		"blocked":         counts[tasks.StatusBlocked],
		"pending":         counts[tasks.StatusPending],
		"failed":          counts[tasks.StatusFailed],
		"completion_rate": rate,
		"active_agents":   activeAgents,
	}
}

func (c *Context) persistTask(ctx context.Context, t *tasks.Task) error {
	key := c.ProjectID + "/" + t.ID
	if err := c.store.Store(ctx, persistence.ColTasks, key, taskRecord{ProjectID: c.ProjectID, Task: t}); err != nil {
		return err
	}
	return nil
}

func (c *Context) persistLease(ctx context.Context, l *leases.Lease) {
	key := c.ProjectID + "/" + l.ID
	if err := c.store.Store(ctx, persistence.ColLeases, key, leaseRecord{ProjectID: c.ProjectID, Lease: l}); err != nil {
		log.Printf("[PROJECT] failed to persist lease %s: %v", l.ID, err)
	}
}

// Save flushes ephemeral state and refreshes the project snapshot
func (c *Context) Save(ctx context.Context, trigger string) error {
	for _, t := range c.Pool.All() {
		if err := c.persistTask(ctx, t); err != nil {
			return err
		}
	}
	for _, l := range c.Leases.All() {
		c.persistLease(ctx, l)
	}

	counts := c.Pool.Counts()
	c.mu.Lock()
	activeAgents := 0
	for _, a := range c.agents {
		if a.Status != types.AgentOffline {
			activeAgents++
		}
	}
	c.mu.Unlock()

	snap := Snapshot{
		ProjectID:      c.ProjectID,
		Name:           c.Name,
		Description:    c.Description,
		Timestamp:      time.Now().UTC(),
		Trigger:        trigger,
		TotalTasks:     c.Pool.Len(),
		CompletedTasks: counts[tasks.StatusCompleted],
		ActiveAgents:   activeAgents,
	}
	return c.store.Store(ctx, persistence.ColSnapshots, c.ProjectID, snap)
}

// rehydrate loads tasks and held leases back from persistence
func (c *Context) rehydrate(ctx context.Context) error {
	prefix := c.ProjectID + "/"

	taskRecs, err := c.store.Query(ctx, persistence.ColTasks, func(r persistence.Record) bool {
		return strings.HasPrefix(r.Key, prefix)
	}, 0, 0)
	if err != nil {
		return err
	}
	for _, rec := range taskRecs {
		var tr taskRecord
		if err := rec.Decode(&tr); err != nil {
			return err
		}
		c.Pool.Add(tr.Task)
	}

	leaseRecs, err := c.store.Query(ctx, persistence.ColLeases, func(r persistence.Record) bool {
		return strings.HasPrefix(r.Key, prefix)
	}, 0, 0)
	if err != nil {
		return err
	}
	for _, rec := range leaseRecs {
		var lr leaseRecord
		if err := rec.Decode(&lr); err != nil {
			return err
		}
		c.Leases.Restore(lr.Lease)
	}
	return nil
}

// Close flushes state, stops the reclaim loop, and drains the bus. Safe
// to call more than once.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	c.reclaimer.Stop()
	err := c.Save(ctx, "close")
	c.Bus.Drain()
	return err
}

// IsConnected reports whether the context is live (not closed/evicted)
func (c *Context) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
