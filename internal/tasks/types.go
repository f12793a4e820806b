package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcusd/internal/stringutil"
)

// Status represents the current state of a task
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Priority is the scheduling priority of a task
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// priorityScores are the ordinal weights used by the assignment engine
var priorityScores = map[Priority]int{
	PriorityUrgent: 10,
	PriorityHigh:   3,
	PriorityNormal: 1,
	PriorityLow:    0,
}

// Score returns the ordinal weight of a priority
func (p Priority) Score() int {
	return priorityScores[p]
}

// DependencyType distinguishes ordering constraints between subtasks
type DependencyType string

const (
	DepHard DependencyType = "hard"
	DepSoft DependencyType = "soft"
)

// Labels with semantic meaning for final-task detection
const (
	LabelDocumentation = "documentation"
	LabelFinal         = "final"
	LabelVerification  = "verification"
)

// Task is a unit of work in a project's task graph
type Task struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	Priority       Priority  `json:"priority"`
	Labels         []string  `json:"labels,omitempty"`
	Dependencies   []string  `json:"dependencies,omitempty"`
	EstimatedHours float64   `json:"estimated_hours"`
	AssignedAgentID string   `json:"assigned_agent_id,omitempty"`
	LeaseID        string    `json:"lease_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	// Subtask fields; zero values for top-level tasks
	ParentTaskID    string           `json:"parent_task_id,omitempty"`
	Order           int              `json:"order,omitempty"`
	DependencyTypes []DependencyType `json:"dependency_types,omitempty"`
	Provides        []string         `json:"provides,omitempty"`
	Requires        []string         `json:"requires,omitempty"`
	FileArtifacts   []string         `json:"file_artifacts,omitempty"`
}

// validTransitions defines allowed status transitions
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusAssigned, StatusBlocked},
	StatusAssigned:   {StatusInProgress, StatusPending, StatusBlocked, StatusCompleted, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusBlocked, StatusPending},
	StatusBlocked:    {StatusPending, StatusAssigned, StatusInProgress},
	StatusCompleted:  {},
	StatusFailed:     {StatusPending},
}

// NewTask creates a pending task with a generated ID
func NewTask(name, description string, priority Priority) *Task {
	now := time.Now().UTC()
	if priority == "" {
		priority = PriorityNormal
	}
	return &Task{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Status:      StatusPending,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo attempts to move the task to a new status
func (t *Task) TransitionTo(newStatus Status) error {
	allowed, ok := validTransitions[t.Status]
	if !ok {
		return fmt.Errorf("unknown current status: %s", t.Status)
	}
	for _, s := range allowed {
		if s == newStatus {
			t.Status = newStatus
			t.UpdatedAt = time.Now().UTC()
			if newStatus == StatusCompleted {
				done := t.UpdatedAt
				t.CompletedAt = &done
			}
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s", t.Status, newStatus)
}

// IsTerminal returns true if the task is in a final state
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// IsFinalTask reports whether this task represents end-of-project work:
// a "final" or "verification" label, or README in the name.
func (t *Task) IsFinalTask() bool {
	for _, l := range t.Labels {
		n := stringutil.NormalizeToken(l)
		if n == LabelFinal || n == LabelVerification {
			return true
		}
	}
	return strings.Contains(t.Name, "README")
}

// IsImplementationTask reports whether the task carries none of the
// end-of-project labels
func (t *Task) IsImplementationTask() bool {
	for _, l := range t.Labels {
		switch stringutil.NormalizeToken(l) {
		case LabelDocumentation, LabelFinal, LabelVerification:
			return false
		}
	}
	return true
}

// KeywordSet is the union of labels and normalized name/description tokens,
// matched case-insensitively against agent capabilities
func (t *Task) KeywordSet() map[string]bool {
	set := make(map[string]bool)
	for _, l := range t.Labels {
		if n := stringutil.NormalizeToken(l); n != "" {
			set[n] = true
		}
	}
	for _, tok := range stringutil.Tokenize(t.Name) {
		set[tok] = true
	}
	for _, tok := range stringutil.Tokenize(t.Description) {
		set[tok] = true
	}
	return set
}
