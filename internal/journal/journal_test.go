package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/marcusd/internal/persistence"
)

func TestRecordDecisionValidation(t *testing.T) {
	j := New(persistence.NewMemoryStore())
	ctx := context.Background()

	if _, err := j.RecordDecision(ctx, &Decision{ProjectID: "p1", What: "only what"}); err == nil {
		t.Error("missing why must be rejected")
	}
	if _, err := j.RecordDecision(ctx, &Decision{ProjectID: "p1", What: "w", Why: "y", Confidence: 1.5}); err == nil {
		t.Error("confidence outside [0,1] must be rejected")
	}
	if _, err := j.RecordDecision(ctx, &Decision{ProjectID: "p1", What: "w", Why: "y", Impact: "huge"}); err == nil {
		t.Error("unknown impact must be rejected")
	}

	d, err := j.RecordDecision(ctx, &Decision{ProjectID: "p1", TaskID: "t1", What: "w", Why: "y", Confidence: 0.9})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if d.ID == "" || d.Timestamp.IsZero() {
		t.Error("identity not stamped")
	}
	if d.Impact != ImpactLow {
		t.Errorf("default impact = %s, want low", d.Impact)
	}
}

func TestDecisionsAndArtifactsByTask(t *testing.T) {
	j := New(persistence.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		j.RecordDecision(ctx, &Decision{ProjectID: "p1", TaskID: "t1", What: fmt.Sprintf("d%d", i), Why: "because"})
	}
	j.RecordDecision(ctx, &Decision{ProjectID: "p1", TaskID: "t2", What: "other", Why: "because"})
	j.RecordDecision(ctx, &Decision{ProjectID: "p2", TaskID: "t1", What: "other project", Why: "because"})

	decisions, err := j.DecisionsForTask(ctx, "p1", "t1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(decisions) != 3 {
		t.Errorf("decisions = %d, want 3", len(decisions))
	}

	j.RecordArtifact(ctx, &Artifact{ProjectID: "p1", TaskID: "t1", Filename: "api.go", ArtifactType: "code"})
	artifacts, err := j.ArtifactsForTask(ctx, "p1", "t1")
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Filename != "api.go" {
		t.Errorf("artifacts = %+v", artifacts)
	}
}

func TestConvLogAppendReadAndMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.jsonl")
	l, err := OpenConvLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		err := l.Append(ConvEntry{
			Direction: "from_agent",
			AgentID:   "a1",
			Content:   fmt.Sprintf("message %d", i),
			Metadata:  ConvMetadata{ProjectID: "p1", TaskID: fmt.Sprintf("t%d", i%2)},
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	l.Append(ConvEntry{AgentID: "a2", Metadata: ConvMetadata{ProjectID: "p2", TaskID: "tx"}})

	entries, err := l.Read(func(e ConvEntry) bool { return e.Metadata.ProjectID == "p1" }, 3, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3 (limit applied after offset)", len(entries))
	}
	if entries[0].Content != "message 1" {
		t.Errorf("first = %q, want message 1", entries[0].Content)
	}

	ids, err := l.TaskIDsForProject("p1")
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("task ids = %v, want [t0 t1]", ids)
	}
}
