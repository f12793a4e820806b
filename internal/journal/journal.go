// Package journal records append-only project history: agent decisions,
// produced artifacts, and the conversation log.
package journal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcusd/internal/errs"
	"github.com/marcusd/internal/persistence"
)

// Impact grades how far a decision reaches
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactMajor    Impact = "major"
	ImpactCritical Impact = "critical"
)

// ValidImpact reports whether i is a known impact grade
func ValidImpact(i Impact) bool {
	switch i {
	case ImpactLow, ImpactMedium, ImpactMajor, ImpactCritical:
		return true
	}
	return false
}

// Decision is one recorded agent decision. Append-only.
type Decision struct {
	ID            string    `json:"decision_id"`
	ProjectID     string    `json:"project_id"`
	TaskID        string    `json:"task_id"`
	AgentID       string    `json:"agent_id"`
	Timestamp     time.Time `json:"timestamp"`
	What          string    `json:"what"`
	Why           string    `json:"why"`
	Impact        Impact    `json:"impact"`
	AffectedTasks []string  `json:"affected_tasks,omitempty"`
	Confidence    float64   `json:"confidence"`
}

// Artifact is the metadata of one produced file. Append-only.
type Artifact struct {
	ID           string    `json:"artifact_id"`
	ProjectID    string    `json:"project_id"`
	TaskID       string    `json:"task_id"`
	AgentID      string    `json:"agent_id"`
	Timestamp    time.Time `json:"timestamp"`
	ArtifactType string    `json:"artifact_type"`
	Filename     string    `json:"filename"`
	RelativePath string    `json:"relative_path"`
	AbsolutePath string    `json:"absolute_path"`
	Description  string    `json:"description"`
	SizeBytes    int64     `json:"file_size_bytes"`
	SHA256       string    `json:"sha256_hash"`
}

// Journal persists decisions and artifacts for all projects
type Journal struct {
	store persistence.Store
}

// New creates a journal over the given store
func New(store persistence.Store) *Journal {
	return &Journal{store: store}
}

// RecordDecision validates and appends a decision, stamping identity
func (j *Journal) RecordDecision(ctx context.Context, d *Decision) (*Decision, error) {
	if d.What == "" || d.Why == "" {
		return nil, errs.New(errs.KindBusinessLogic, "decisions need both what and why").
			WithOp("log_decision").WithProject(d.ProjectID).WithTask(d.TaskID)
	}
	if d.Impact == "" {
		d.Impact = ImpactLow
	}
	if !ValidImpact(d.Impact) {
		return nil, errs.Newf(errs.KindBusinessLogic, "unknown impact %q", d.Impact).
			WithOp("log_decision").WithProject(d.ProjectID)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return nil, errs.Newf(errs.KindBusinessLogic, "confidence %v outside [0,1]", d.Confidence).
			WithOp("log_decision").WithProject(d.ProjectID)
	}

	d.ID = uuid.New().String()
	d.Timestamp = time.Now().UTC()
	if err := j.store.Store(ctx, persistence.ColDecisions, d.ProjectID+"/"+d.ID, d); err != nil {
		return nil, err
	}
	return d, nil
}

// RecordArtifact appends artifact metadata, stamping identity
func (j *Journal) RecordArtifact(ctx context.Context, a *Artifact) (*Artifact, error) {
	if a.Filename == "" {
		return nil, errs.New(errs.KindBusinessLogic, "artifacts need a filename").
			WithOp("log_artifact").WithProject(a.ProjectID).WithTask(a.TaskID)
	}

	a.ID = uuid.New().String()
	a.Timestamp = time.Now().UTC()
	if err := j.store.Store(ctx, persistence.ColArtifacts, a.ProjectID+"/"+a.ID, a); err != nil {
		return nil, err
	}
	return a, nil
}

// DecisionsForTask returns decisions recorded against a task, in order
func (j *Journal) DecisionsForTask(ctx context.Context, projectID, taskID string) ([]*Decision, error) {
	recs, err := j.store.Query(ctx, persistence.ColDecisions, func(r persistence.Record) bool {
		return strings.HasPrefix(r.Key, projectID+"/")
	}, 0, 0)
	if err != nil {
		return nil, err
	}

	var out []*Decision
	for _, rec := range recs {
		var d Decision
		if err := rec.Decode(&d); err != nil {
			return nil, err
		}
		if d.TaskID == taskID {
			out = append(out, &d)
		}
	}
	return out, nil
}

// ArtifactsForTask returns artifact metadata recorded against a task
func (j *Journal) ArtifactsForTask(ctx context.Context, projectID, taskID string) ([]*Artifact, error) {
	recs, err := j.store.Query(ctx, persistence.ColArtifacts, func(r persistence.Record) bool {
		return strings.HasPrefix(r.Key, projectID+"/")
	}, 0, 0)
	if err != nil {
		return nil, err
	}

	var out []*Artifact
	for _, rec := range recs {
		var a Artifact
		if err := rec.Decode(&a); err != nil {
			return nil, err
		}
		if a.TaskID == taskID {
			out = append(out, &a)
		}
	}
	return out, nil
}
