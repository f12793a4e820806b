package tasks

import (
	"sync"
)

// Pool is a thread-safe task collection for one project. Tasks keep their
// insertion order; an index map gives fast lookup by ID.
type Pool struct {
	mu    sync.RWMutex
	tasks []*Task
	index map[string]*Task
}

// NewPool creates an empty task pool
func NewPool() *Pool {
	return &Pool{
		tasks: make([]*Task, 0),
		index: make(map[string]*Task),
	}
}

// Add inserts a task. Adding an existing ID replaces it in place.
func (p *Pool) Add(task *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.index[task.ID]; exists {
		for i, t := range p.tasks {
			if t.ID == task.ID {
				p.tasks[i] = task
				break
			}
		}
	} else {
		p.tasks = append(p.tasks, task)
	}
	p.index[task.ID] = task
}

// AddAll inserts a batch of tasks
func (p *Pool) AddAll(tasks []*Task) {
	for _, t := range tasks {
		p.Add(t)
	}
}

// Get returns a task by ID, or nil
func (p *Pool) Get(id string) *Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index[id]
}

// Remove removes a task by ID
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.index[id]; !exists {
		return false
	}
	delete(p.index, id)
	for i, t := range p.tasks {
		if t.ID == id {
			p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
			break
		}
	}
	return true
}

// All returns tasks in insertion order (copy of the slice, shared tasks)
func (p *Pool) All() []*Task {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}

// ByStatus returns all tasks with the given status
func (p *Pool) ByStatus(status Status) []*Task {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Task
	for _, t := range p.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// ByAgent returns all tasks assigned to an agent
func (p *Pool) ByAgent(agentID string) []*Task {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Task
	for _, t := range p.tasks {
		if t.AssignedAgentID == agentID {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of tasks
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tasks)
}

// DependenciesCompleted reports whether every dependency of the task is in
// completed state. Dependencies referencing unknown IDs count as unmet.
func (p *Pool) DependenciesCompleted(t *Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, dep := range t.Dependencies {
		d, ok := p.index[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Depth returns the longest dependency path from a root to the task.
// Roots have depth 0. Unknown dependencies are skipped; cycles (which the
// validator removes before tasks enter the pool) are cut off by the
// visited set.
func (p *Pool) Depth(id string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.depthLocked(id, make(map[string]bool))
}

func (p *Pool) depthLocked(id string, visiting map[string]bool) int {
	t, ok := p.index[id]
	if !ok || visiting[id] {
		return 0
	}
	visiting[id] = true
	defer delete(visiting, id)

	depth := 0
	for _, dep := range t.Dependencies {
		if _, ok := p.index[dep]; !ok {
			continue
		}
		if d := p.depthLocked(dep, visiting) + 1; d > depth {
			depth = d
		}
	}
	return depth
}

// Counts returns a status histogram
func (p *Pool) Counts() map[Status]int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counts := make(map[Status]int)
	for _, t := range p.tasks {
		counts[t.Status]++
	}
	return counts
}
