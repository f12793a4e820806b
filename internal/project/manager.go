package project

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/events"
	"github.com/marcusd/internal/persistence"
)

// CreateMode selects create_project behavior
type CreateMode string

const (
	ModeNewProject    CreateMode = "new_project"
	ModeAuto          CreateMode = "auto"
	ModeSelectProject CreateMode = "select_project"
)

// Manager owns the set of live project contexts: an LRU cache bounded by
// capacity, plus the active-project singleton. Evicted contexts are closed
// asynchronously; their persisted state survives and rehydrates on
// re-access.
type Manager struct {
	deps     Deps
	capacity int

	mu       sync.Mutex
	cache    *lru.Cache[string, *Context]
	activeID string
	runCtx   context.Context
}

// NewManager creates a context manager with the configured cache capacity
func NewManager(runCtx context.Context, deps Deps) (*Manager, error) {
	capacity := deps.Config.ContextCache.Capacity
	m := &Manager{
		deps:     deps,
		capacity: capacity,
		runCtx:   runCtx,
	}

	cache, err := lru.NewWithEvict[string, *Context](capacity, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create context cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// onEvict closes the least-recently-used context off the hot path
func (m *Manager) onEvict(projectID string, pc *Context) {
	log.Printf("[PROJECT] evicting %s from context cache", projectID)
	go func() {
		if err := pc.Close(context.Background()); err != nil {
			log.Printf("[PROJECT] error closing evicted context %s: %v", projectID, err)
		}
	}()
}

// GetOrCreate returns the cached context for projectID, rehydrating from
// persistence (or creating fresh) on a miss. Access promotes the entry.
func (m *Manager) GetOrCreate(ctx context.Context, projectID string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(ctx, projectID, "", "")
}

func (m *Manager) getOrCreateLocked(ctx context.Context, projectID, name, description string) (*Context, error) {
	if pc, ok := m.cache.Get(projectID); ok {
		pc.Touch()
		return pc, nil
	}

	// Known in persistence?
	var snap Snapshot
	err := m.deps.Store.Retrieve(ctx, persistence.ColSnapshots, projectID, &snap)
	switch {
	case err == nil:
		if name == "" {
			name = snap.Name
		}
		if description == "" {
			description = snap.Description
		}
	case errs.IsNotFound(err):
		// Fresh project
	default:
		return nil, err
	}

	pc := NewContext(projectID, name, description, m.deps)
	if err := pc.rehydrate(ctx); err != nil {
		return nil, err
	}
	pc.Start(m.runCtx)
	m.cache.Add(projectID, pc)
	return pc, nil
}

// Create registers a new project (or resolves an existing one, depending
// on mode) and returns its context
func (m *Manager) Create(ctx context.Context, name, description string, mode CreateMode, projectID string) (*Context, error) {
	if mode == "" {
		mode = ModeNewProject
	}

	switch mode {
	case ModeNewProject:
		if projectID == "" {
			projectID = uuid.New().String()
		}

	case ModeAuto:
		if existing, err := m.findByName(ctx, name); err != nil {
			return nil, err
		} else if existing != "" {
			return m.Switch(ctx, existing)
		}
		if projectID == "" {
			projectID = uuid.New().String()
		}

	case ModeSelectProject:
		if projectID == "" {
			found, err := m.findByName(ctx, name)
			if err != nil {
				return nil, err
			}
			if found == "" {
				return nil, errs.Newf(errs.KindBusinessLogic, "no project named %q to select", name).
					WithOp("create_project")
			}
			projectID = found
		}
		return m.Switch(ctx, projectID)

	default:
		return nil, errs.Newf(errs.KindBusinessLogic, "unknown create mode %q", mode).WithOp("create_project")
	}

	m.mu.Lock()
	pc, err := m.getOrCreateLocked(ctx, projectID, name, description)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := pc.Save(ctx, "create"); err != nil {
		return nil, err
	}
	return m.Switch(ctx, projectID)
}

// findByName resolves a project name to its ID via persisted snapshots
func (m *Manager) findByName(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	recs, err := m.deps.Store.Query(ctx, persistence.ColSnapshots, nil, 0, 0)
	if err != nil {
		return "", err
	}
	for _, rec := range recs {
		var snap Snapshot
		if err := rec.Decode(&snap); err != nil {
			continue
		}
		if snap.Name == name {
			return snap.ProjectID, nil
		}
	}
	return "", nil
}

// Switch saves the currently active context's ephemeral state, promotes
// (or loads) the target, and makes it active
func (m *Manager) Switch(ctx context.Context, projectID string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.cache.Peek(m.activeID); ok && m.activeID != projectID {
		if err := current.Save(ctx, "switch"); err != nil {
			log.Printf("[PROJECT] failed to save %s before switch: %v", m.activeID, err)
		}
	}

	pc, err := m.getOrCreateLocked(ctx, projectID, "", "")
	if err != nil {
		return nil, err
	}
	m.activeID = projectID

	pc.Bus.Publish(ctx, events.New(events.ProjectStateChanged, "projects", map[string]interface{}{
		"project_id": projectID,
		"state":      "active",
	}))
	return pc, nil
}

// Current returns the active context, or nil when no project is active
func (m *Manager) Current() *Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return nil
	}
	pc, ok := m.cache.Peek(m.activeID)
	if !ok {
		return nil
	}
	return pc
}

// RequireCurrent returns the active context or a NoActiveProject error
func (m *Manager) RequireCurrent() (*Context, error) {
	pc := m.Current()
	if pc == nil {
		return nil, errs.New(errs.KindBusinessLogic, "no active project").WithOp("current_project")
	}
	return pc, nil
}

// ActiveID returns the active project's ID, or ""
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// CachedCount returns how many contexts are resident
func (m *Manager) CachedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// ProjectInfo is one entry of list_projects
type ProjectInfo struct {
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"project_name"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	LastSaved      time.Time `json:"last_saved"`
	Cached         bool      `json:"cached"`
	Active         bool      `json:"active"`
}

// ListProjects enumerates known projects from persistence plus any cached
// contexts not yet snapshotted
func (m *Manager) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	recs, err := m.deps.Store.Query(ctx, persistence.ColSnapshots, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	cachedIDs := m.cache.Keys()
	activeID := m.activeID
	m.mu.Unlock()

	cached := make(map[string]bool, len(cachedIDs))
	for _, id := range cachedIDs {
		cached[id] = true
	}

	seen := make(map[string]bool)
	var out []ProjectInfo
	for _, rec := range recs {
		var snap Snapshot
		if err := rec.Decode(&snap); err != nil {
			continue
		}
		seen[snap.ProjectID] = true
		out = append(out, ProjectInfo{
			ProjectID:      snap.ProjectID,
			Name:           snap.Name,
			TotalTasks:     snap.TotalTasks,
			CompletedTasks: snap.CompletedTasks,
			LastSaved:      snap.Timestamp,
			Cached:         cached[snap.ProjectID],
			Active:         snap.ProjectID == activeID,
		})
	}

	for _, id := range cachedIDs {
		if seen[id] {
			continue
		}
		if pc, ok := m.cache.Peek(id); ok {
			out = append(out, ProjectInfo{
				ProjectID: id,
				Name:      pc.Name,
				Cached:    true,
				Active:    id == activeID,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

// Close saves and closes every cached context
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	keys := m.cache.Keys()
	contexts := make([]*Context, 0, len(keys))
	for _, k := range keys {
		if pc, ok := m.cache.Peek(k); ok {
			contexts = append(contexts, pc)
		}
	}
	m.mu.Unlock()

	for _, pc := range contexts {
		if err := pc.Close(ctx); err != nil {
			log.Printf("[PROJECT] error closing %s: %v", pc.ProjectID, err)
		}
	}
}
