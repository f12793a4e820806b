package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/marcusd/internal/classifier"
	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/events"
	"github.com/marcusd/internal/leases"
	"github.com/marcusd/internal/tasks"
	"github.com/marcusd/internal/types"
)

func testEngine(pool *tasks.Pool) (*Engine, *leases.Manager, *events.Bus) {
	lm := leases.NewManager()
	bus := events.NewBus(100, nil, false)
	e := NewEngine("p1", pool, lm, bus, nil, time.Hour)
	return e, lm, bus
}

func agent(id string, caps ...string) *types.Agent {
	return &types.Agent{ID: id, Role: types.RoleAgent, Capabilities: caps, Status: types.AgentIdle}
}

func pendingTask(id, name string, priority tasks.Priority, labels ...string) *tasks.Task {
	t := tasks.NewTask(name, "", priority)
	t.ID = id
	t.Labels = labels
	return t
}

// The priority/capability tiebreak scenario: capability match breaks the
// high-priority tie, then lexicographic ID, then the leftover normal task.
func TestTiebreakChain(t *testing.T) {
	pool := tasks.NewPool()
	pool.Add(pendingTask("X", "task x", tasks.PriorityNormal, "api"))
	pool.Add(pendingTask("Y", "task y", tasks.PriorityHigh, "python"))
	pool.Add(pendingTask("Z", "task z", tasks.PriorityHigh))
	e, _, _ := testEngine(pool)

	a := agent("a1", "python", "api")

	first, err := e.RequestNext(context.Background(), a)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if first.ID != "Y" {
		t.Fatalf("first = %s, want Y (capability breaks priority tie)", first.ID)
	}

	second, err := e.RequestNext(context.Background(), agent("a2"))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if second.ID != "Z" {
		t.Fatalf("second = %s, want Z (remaining high priority)", second.ID)
	}

	third, err := e.RequestNext(context.Background(), agent("a3"))
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if third.ID != "X" {
		t.Fatalf("third = %s, want X", third.ID)
	}
}

func TestNoEligibleTaskReturnsNil(t *testing.T) {
	pool := tasks.NewPool()
	e, _, _ := testEngine(pool)

	task, err := e.RequestNext(context.Background(), agent("a1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task != nil {
		t.Errorf("task = %v, want nil", task)
	}
}

func TestDependenciesGateEligibility(t *testing.T) {
	pool := tasks.NewPool()
	dep := pendingTask("A", "build", tasks.PriorityNormal)
	blocked := pendingTask("B", "test", tasks.PriorityUrgent)
	blocked.Dependencies = []string{"A"}
	pool.Add(dep)
	pool.Add(blocked)
	e, _, _ := testEngine(pool)

	got, _ := e.RequestNext(context.Background(), agent("a1"))
	if got.ID != "A" {
		t.Fatalf("got %s, want A (B blocked despite urgent priority)", got.ID)
	}

	// Complete A; B becomes eligible
	dep.TransitionTo(tasks.StatusInProgress)
	dep.TransitionTo(tasks.StatusCompleted)

	got, _ = e.RequestNext(context.Background(), agent("a2"))
	if got == nil || got.ID != "B" {
		t.Fatalf("got %v, want B after dependency completed", got)
	}
}

func TestBusyAgentRejected(t *testing.T) {
	pool := tasks.NewPool()
	pool.Add(pendingTask("A", "build", tasks.PriorityNormal))
	pool.Add(pendingTask("B", "test", tasks.PriorityNormal))
	e, _, _ := testEngine(pool)

	a := agent("a1")
	if _, err := e.RequestNext(context.Background(), a); err != nil {
		t.Fatalf("first request: %v", err)
	}

	_, err := e.RequestNext(context.Background(), a)
	if err == nil {
		t.Fatal("expected rejection for agent already holding a lease")
	}
	if errs.KindOf(err) != errs.KindBusinessLogic {
		t.Errorf("kind = %s, want business_logic", errs.KindOf(err))
	}
}

func TestAssignmentSideEffects(t *testing.T) {
	pool := tasks.NewPool()
	pool.Add(pendingTask("A", "build", tasks.PriorityNormal))
	e, lm, bus := testEngine(pool)

	task, err := e.RequestNext(context.Background(), agent("a1"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if task.Status != tasks.StatusAssigned {
		t.Errorf("status = %s, want assigned", task.Status)
	}
	if task.AssignedAgentID != "a1" || task.LeaseID == "" {
		t.Errorf("assignment fields not set: %+v", task)
	}
	if lm.HolderOf("A") == nil {
		t.Error("no lease issued")
	}

	if _, err := bus.WaitFor(func(ev events.Event) bool {
		return ev.Type == events.TaskAssigned && ev.Data["task_id"] == "A"
	}, time.Second); err != nil {
		t.Errorf("TaskAssigned not published: %v", err)
	}
}

func TestDeterminism(t *testing.T) {
	build := func() *Engine {
		pool := tasks.NewPool()
		pool.Add(pendingTask("m", "migrate database", tasks.PriorityNormal, "database"))
		pool.Add(pendingTask("n", "tune cache", tasks.PriorityNormal, "cache"))
		pool.Add(pendingTask("o", "write parser", tasks.PriorityNormal))
		e, _, _ := testEngine(pool)
		return e
	}

	a := agent("a1", "database", "cache")
	first, _ := build().RequestNext(context.Background(), a)
	for i := 0; i < 5; i++ {
		again, _ := build().RequestNext(context.Background(), a)
		if again.ID != first.ID {
			t.Fatalf("nondeterministic selection: %s vs %s", again.ID, first.ID)
		}
	}
}

// failingClassifier always errors, which must be indistinguishable from
// classifier-disabled operation
type failingClassifier struct{}

func (failingClassifier) Classify(ctx context.Context, task *tasks.Task, agent *types.Agent) (*classifier.Result, error) {
	return nil, errs.New(errs.KindIntegration, "classifier down")
}
func (failingClassifier) Enabled() bool { return true }

// fixedClassifier scores one task above all others
type fixedClassifier struct{ favorite string }

func (f fixedClassifier) Classify(ctx context.Context, task *tasks.Task, agent *types.Agent) (*classifier.Result, error) {
	if task.ID == f.favorite {
		return &classifier.Result{Score: 1.0, Reasoning: "best fit"}, nil
	}
	return &classifier.Result{Score: 0.1}, nil
}
func (fixedClassifier) Enabled() bool { return true }

func TestClassifierFallback(t *testing.T) {
	pool := tasks.NewPool()
	pool.Add(pendingTask("A", "task a", tasks.PriorityNormal, "python"))
	pool.Add(pendingTask("B", "task b", tasks.PriorityNormal))
	lm := leases.NewManager()
	bus := events.NewBus(100, nil, false)
	e := NewEngine("p1", pool, lm, bus, failingClassifier{}, time.Hour)

	task, err := e.RequestNext(context.Background(), agent("a1", "python"))
	if err != nil {
		t.Fatalf("fallback must not surface classifier errors: %v", err)
	}
	if task.ID != "A" {
		t.Errorf("got %s, want deterministic winner A", task.ID)
	}
}

func TestClassifierRescoring(t *testing.T) {
	pool := tasks.NewPool()
	pool.Add(pendingTask("A", "task a", tasks.PriorityNormal, "python"))
	pool.Add(pendingTask("B", "task b", tasks.PriorityNormal))
	lm := leases.NewManager()
	bus := events.NewBus(100, nil, false)
	e := NewEngine("p1", pool, lm, bus, fixedClassifier{favorite: "B"}, time.Hour)

	task, err := e.RequestNext(context.Background(), agent("a1", "python"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if task.ID != "B" {
		t.Errorf("got %s, want classifier favorite B", task.ID)
	}
}

func TestMatchScore(t *testing.T) {
	task := pendingTask("T", "implement rest endpoint", tasks.PriorityNormal, "api", "golang")
	keywords := task.KeywordSet()
	score := MatchScore([]string{"API", "golang", "unrelated"}, task)

	want := 2.0 / float64(len(keywords))
	if score != want {
		t.Errorf("score = %v, want %v (case-insensitive intersection over keyword count)", score, want)
	}
}
