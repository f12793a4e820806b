// Package persistence provides the typed collection store the core keeps
// all durable state in. Three interchangeable backends exist: SQLite,
// file tree, and in-memory.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Collections used by the core
const (
	ColTasks         = "tasks"
	ColAssignments   = "assignments"
	ColLeases        = "leases"
	ColDecisions     = "decisions"
	ColArtifacts     = "artifacts"
	ColEvents        = "events"
	ColSnapshots     = "project_snapshots"
	ColAnalysis      = "analysis_results"
	ColConversations = "conversation_index"
)

// MaxQueryResults is the hard ceiling on items a single Query returns.
// Callers asking for more get a truncated read.
const MaxQueryResults = 10000

// Record is one stored entry. Data is the JSON-encoded value; StoredAt is
// stamped on every upsert, always UTC.
type Record struct {
	Key      string          `json:"key"`
	StoredAt time.Time       `json:"_stored_at"`
	Data     json.RawMessage `json:"data"`
}

// Decode unmarshals the record's value into out
func (r Record) Decode(out interface{}) error {
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", r.Key, err)
	}
	return nil
}

// FilterFunc selects records during a Query. A nil filter matches all.
type FilterFunc func(Record) bool

// Store is the collection store contract. Implementations guarantee
// many-readers-or-one-writer per collection.
type Store interface {
	// Store upserts value under (collection, key), stamping _stored_at
	Store(ctx context.Context, collection, key string, value interface{}) error

	// Retrieve loads the value for (collection, key) into out.
	// Returns an error wrapping errs.ErrNotFound when absent.
	Retrieve(ctx context.Context, collection, key string, out interface{}) error

	// Query returns filtered records in insertion order: offset is applied
	// to the filtered result, then at most min(limit, MaxQueryResults)
	// records are returned.
	Query(ctx context.Context, collection string, filter FilterFunc, limit, offset int) ([]Record, error)

	// Delete removes (collection, key). Deleting a missing key is not an error.
	Delete(ctx context.Context, collection, key string) error

	// ClearOld removes entries stored before the threshold, returning the count
	ClearOld(ctx context.Context, collection string, olderThan time.Time) (int, error)

	// Close releases backend resources
	Close() error
}

// clampLimit applies the hard result ceiling
func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryResults {
		return MaxQueryResults
	}
	return limit
}

// window applies offset then the capped limit to an in-order result
func window(records []Record, limit, offset int) []Record {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	limit = clampLimit(limit)
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// encode marshals a value for storage
func encode(value interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return data, nil
}
