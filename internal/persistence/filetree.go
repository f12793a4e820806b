package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/marcusd/internal/errs"
)

// safeKey matches keys that can be used directly as file names
var safeKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// fileRecord is the on-disk wrapper around a stored value
type fileRecord struct {
	Key      string          `json:"key"`
	StoredAt time.Time       `json:"_stored_at"`
	Seq      int64           `json:"seq"`
	Data     json.RawMessage `json:"data"`
}

// FileStore is the file-tree backend: one directory per collection, one
// JSON file per key, writes going through write-then-rename so a crashed
// process never leaves a torn record.
type FileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex // per-collection
	seq   int64                    // insertion-order counter
}

// NewFileStore creates a file-tree store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	s := &FileStore{
		root:  dir,
		locks: make(map[string]*sync.RWMutex),
		seq:   time.Now().UnixNano(),
	}
	return s, nil
}

// lockFor returns the lock guarding one collection
func (s *FileStore) lockFor(collection string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[collection]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[collection] = l
	}
	return l
}

func (s *FileStore) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// keyFile maps a key to its file path, hashing keys unsafe as file names
func (s *FileStore) keyFile(collection, key string) string {
	name := key
	if !safeKey.MatchString(key) {
		name = fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
	}
	return filepath.Join(s.root, collection, name+".json")
}

// Store upserts a value via write-then-rename
func (s *FileStore) Store(ctx context.Context, collection, key string, value interface{}) error {
	lock := s.lockFor(collection)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.root, collection)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrap(errs.KindTransient, err, "failed to create collection directory")
	}

	data, err := encode(value)
	if err != nil {
		return err
	}

	path := s.keyFile(collection, key)
	seq := s.nextSeq()
	// Preserve the original insertion sequence on upsert
	if old, err := s.readRecord(path); err == nil {
		seq = old.Seq
	}

	rec := fileRecord{Key: key, StoredAt: time.Now().UTC(), Seq: seq, Data: data}
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return errs.Wrap(errs.KindTransient, err, "failed to write record")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindTransient, err, "failed to commit record")
	}
	return nil
}

func (s *FileStore) readRecord(path string) (*fileRecord, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec fileRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, errs.Wrap(errs.KindStorage, err, "corrupt record "+path)
	}
	return &rec, nil
}

// Retrieve loads a value by key
func (s *FileStore) Retrieve(ctx context.Context, collection, key string, out interface{}) error {
	lock := s.lockFor(collection)
	lock.RLock()
	defer lock.RUnlock()

	rec, err := s.readRecord(s.keyFile(collection, key))
	if os.IsNotExist(err) {
		return fmt.Errorf("retrieve %s/%s: %w", collection, key, errs.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return Record{Key: key, Data: rec.Data}.Decode(out)
}

// Query loads all records in insertion order and applies filter, offset,
// and the capped limit
func (s *FileStore) Query(ctx context.Context, collection string, filter FilterFunc, limit, offset int) ([]Record, error) {
	lock := s.lockFor(collection)
	lock.RLock()
	defer lock.RUnlock()

	dir := filepath.Join(s.root, collection)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "failed to read collection directory")
	}

	type seqRecord struct {
		seq int64
		rec Record
	}
	var all []seqRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rec, err := s.readRecord(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, seqRecord{
			seq: rec.Seq,
			rec: Record{Key: rec.Key, StoredAt: rec.StoredAt, Data: rec.Data},
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	var matched []Record
	for _, sr := range all {
		if filter == nil || filter(sr.rec) {
			matched = append(matched, sr.rec)
		}
	}
	return window(matched, limit, offset), nil
}

// Delete removes a key; missing keys are not an error
func (s *FileStore) Delete(ctx context.Context, collection, key string) error {
	lock := s.lockFor(collection)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.keyFile(collection, key))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindTransient, err, "delete failed")
	}
	return nil
}

// ClearOld removes entries stored before the threshold
func (s *FileStore) ClearOld(ctx context.Context, collection string, olderThan time.Time) (int, error) {
	lock := s.lockFor(collection)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.root, collection)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, err, "failed to read collection directory")
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		rec, err := s.readRecord(path)
		if err != nil {
			return removed, err
		}
		if rec.StoredAt.Before(olderThan) {
			if err := os.Remove(path); err != nil {
				return removed, errs.Wrap(errs.KindTransient, err, "clear_old failed")
			}
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the file backend
func (s *FileStore) Close() error {
	return nil
}
