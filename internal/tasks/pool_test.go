package tasks

import (
	"testing"
)

func TestPoolAddGetRemove(t *testing.T) {
	p := NewPool()
	task := NewTask("build", "", PriorityNormal)
	p.Add(task)

	if p.Get(task.ID) == nil {
		t.Fatal("task not found by ID")
	}
	if p.Len() != 1 {
		t.Errorf("len = %d", p.Len())
	}

	// Re-adding the same ID replaces, not appends
	p.Add(task)
	if p.Len() != 1 {
		t.Errorf("len after re-add = %d, want 1", p.Len())
	}

	if !p.Remove(task.ID) {
		t.Error("remove failed")
	}
	if p.Remove(task.ID) {
		t.Error("second remove should report missing")
	}
}

func TestDependenciesCompleted(t *testing.T) {
	p := NewPool()
	a := mkTask("A", "a", nil, nil)
	b := mkTask("B", "b", []string{"A"}, nil)
	p.Add(a)
	p.Add(b)

	if p.DependenciesCompleted(b) {
		t.Error("incomplete dependency reported as satisfied")
	}

	a.TransitionTo(StatusAssigned)
	a.TransitionTo(StatusCompleted)
	if !p.DependenciesCompleted(b) {
		t.Error("completed dependency not recognized")
	}

	// Unknown dependencies count as unmet
	c := mkTask("C", "c", []string{"ghost"}, nil)
	p.Add(c)
	if p.DependenciesCompleted(c) {
		t.Error("unknown dependency reported as satisfied")
	}
}

func TestDepth(t *testing.T) {
	p := NewPool()
	p.Add(mkTask("A", "a", nil, nil))
	p.Add(mkTask("B", "b", []string{"A"}, nil))
	p.Add(mkTask("C", "c", []string{"B"}, nil))
	p.Add(mkTask("D", "d", []string{"A", "C"}, nil))

	if got := p.Depth("A"); got != 0 {
		t.Errorf("depth(A) = %d, want 0", got)
	}
	if got := p.Depth("C"); got != 2 {
		t.Errorf("depth(C) = %d, want 2", got)
	}
	if got := p.Depth("D"); got != 3 {
		t.Errorf("depth(D) = %d, want 3 (longest path)", got)
	}
}

func TestCounts(t *testing.T) {
	p := NewPool()
	a := mkTask("A", "a", nil, nil)
	b := mkTask("B", "b", nil, nil)
	b.Status = StatusCompleted
	p.Add(a)
	p.Add(b)

	counts := p.Counts()
	if counts[StatusPending] != 1 || counts[StatusCompleted] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
