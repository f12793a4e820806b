package persistence

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/marcusd/internal/errs"
)

// backends under test; the SQLite backend needs cgo so it is exercised in
// its own test below with a temp file
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

type decision struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	What    string `json:"what"`
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := decision{ID: "d1", Project: "p1", What: "use sqlite"}
			if err := store.Store(ctx, ColDecisions, "d1", in); err != nil {
				t.Fatalf("store: %v", err)
			}

			var out decision
			if err := store.Retrieve(ctx, ColDecisions, "d1", &out); err != nil {
				t.Fatalf("retrieve: %v", err)
			}
			if out != in {
				t.Errorf("got %+v, want %+v", out, in)
			}
		})
	}
}

func TestRetrieveMissingIsNotFound(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			var out decision
			err := store.Retrieve(context.Background(), ColDecisions, "nope", &out)
			if !errs.IsNotFound(err) {
				t.Errorf("err = %v, want not-found sentinel", err)
			}
		})
	}
}

func TestQueryOrderOffsetAndCap(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 25; i++ {
				key := fmt.Sprintf("d%03d", i)
				store.Store(ctx, ColDecisions, key, decision{ID: key, Project: "p1"})
			}

			recs, err := store.Query(ctx, ColDecisions, nil, 10, 5)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(recs) != 10 {
				t.Fatalf("len = %d, want 10", len(recs))
			}
			if recs[0].Key != "d005" {
				t.Errorf("first key = %s, want d005 (offset applied before limit)", recs[0].Key)
			}
			for i := 1; i < len(recs); i++ {
				if recs[i].Key < recs[i-1].Key {
					t.Errorf("insertion order violated: %s after %s", recs[i].Key, recs[i-1].Key)
				}
			}
		})
	}
}

func TestQueryFilter(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Store(ctx, ColDecisions, "a", decision{ID: "a", Project: "p1"})
			store.Store(ctx, ColDecisions, "b", decision{ID: "b", Project: "p2"})
			store.Store(ctx, ColDecisions, "c", decision{ID: "c", Project: "p1"})

			recs, err := store.Query(ctx, ColDecisions, func(r Record) bool {
				return strings.Contains(string(r.Data), `"project":"p1"`)
			}, 0, 0)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(recs) != 2 {
				t.Errorf("len = %d, want 2", len(recs))
			}
		})
	}
}

func TestDeleteAndMissingDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Store(ctx, ColTasks, "t1", decision{ID: "t1"})
			if err := store.Delete(ctx, ColTasks, "t1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			var out decision
			if !errs.IsNotFound(store.Retrieve(ctx, ColTasks, "t1", &out)) {
				t.Error("expected deleted key to be not-found")
			}
			if err := store.Delete(ctx, ColTasks, "t1"); err != nil {
				t.Errorf("deleting a missing key should not error: %v", err)
			}
		})
	}
}

func TestClearOld(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Store(ctx, ColEvents, "old", decision{ID: "old"})
			time.Sleep(20 * time.Millisecond)
			cutoff := time.Now().UTC()
			time.Sleep(20 * time.Millisecond)
			store.Store(ctx, ColEvents, "new", decision{ID: "new"})

			removed, err := store.ClearOld(ctx, ColEvents, cutoff)
			if err != nil {
				t.Fatalf("clear_old: %v", err)
			}
			if removed != 1 {
				t.Errorf("removed = %d, want 1", removed)
			}
			var out decision
			if err := store.Retrieve(ctx, ColEvents, "new", &out); err != nil {
				t.Errorf("new entry should survive: %v", err)
			}
		})
	}
}

func TestUpsertKeepsInsertionOrder(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.Store(ctx, ColTasks, "a", decision{ID: "a", What: "v1"})
			store.Store(ctx, ColTasks, "b", decision{ID: "b"})
			store.Store(ctx, ColTasks, "a", decision{ID: "a", What: "v2"})

			recs, _ := store.Query(ctx, ColTasks, nil, 0, 0)
			if len(recs) != 2 {
				t.Fatalf("len = %d, want 2 (upsert, not append)", len(recs))
			}
			if recs[0].Key != "a" {
				t.Errorf("first = %s, want a (upsert keeps original position)", recs[0].Key)
			}
			var out decision
			recs[0].Decode(&out)
			if out.What != "v2" {
				t.Errorf("value = %q, want updated v2", out.What)
			}
		})
	}
}

func TestWindowHardCap(t *testing.T) {
	recs := make([]Record, 0, MaxQueryResults+500)
	for i := 0; i < MaxQueryResults+500; i++ {
		recs = append(recs, Record{Key: fmt.Sprintf("k%d", i)})
	}

	out := window(recs, 20000, 0)
	if len(out) != MaxQueryResults {
		t.Errorf("len = %d, want hard cap %d", len(out), MaxQueryResults)
	}

	out = window(recs, 5000, 10000)
	if len(out) != 500 {
		t.Errorf("len = %d, want 500 remaining after offset", len(out))
	}
}

func TestSQLiteBackend(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir()+"/marcus.db", 2)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	in := decision{ID: "d1", Project: "p1", What: "ship it"}
	if err := store.Store(ctx, ColDecisions, "d1", in); err != nil {
		t.Fatalf("store: %v", err)
	}
	var out decision
	if err := store.Retrieve(ctx, ColDecisions, "d1", &out); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}

	var missing decision
	if !errs.IsNotFound(store.Retrieve(ctx, ColDecisions, "zzz", &missing)) {
		t.Error("expected not-found sentinel")
	}

	recs, err := store.Query(ctx, ColDecisions, nil, 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || recs[0].Key != "d1" {
		t.Errorf("unexpected query result: %+v", recs)
	}
	if recs[0].StoredAt.Location() != time.UTC {
		t.Errorf("stored_at not UTC: %v", recs[0].StoredAt)
	}
}
