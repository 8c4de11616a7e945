package devserver

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// InMemoryFileStore is a FileStore backed by an in-process map, used by
// the sync_e2e_test.go integration test's "shared in-memory devserver
// instance" (spec.md §8) and by local development without Postgres.
// Grounded on the teacher's db.InMemoryRepositoryManager pattern.
type InMemoryFileStore struct {
	mu      sync.Mutex
	counter map[string]int64
	files   map[string]map[string]FileRecord
	changes map[string][]versionedChange
}

type versionedChange struct {
	version int64
	change  Change
}

// NewInMemoryFileStore constructs an empty store.
func NewInMemoryFileStore() *InMemoryFileStore {
	return &InMemoryFileStore{
		counter: make(map[string]int64),
		files:   make(map[string]map[string]FileRecord),
		changes: make(map[string][]versionedChange),
	}
}

func (s *InMemoryFileStore) nextVersion(userID string) int64 {
	s.counter[userID]++
	return s.counter[userID]
}

func (s *InMemoryFileStore) CreateOrUpdate(ctx context.Context, rec FileRecord, expectedVersion *int64) (FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userFiles, ok := s.files[rec.UserID]
	if !ok {
		userFiles = make(map[string]FileRecord)
		s.files[rec.UserID] = userFiles
	}

	existing, exists := userFiles[rec.Path]
	switch {
	case expectedVersion == nil && exists && !existing.Deleted:
		return FileRecord{}, ErrVersionConflict
	case expectedVersion != nil && (!exists || existing.Deleted):
		// Nothing live to update — including a soft-deleted row, whose
		// version bumped on delete and would otherwise look like an
		// ordinary stale-version conflict. Callers (S6: update racing a
		// delete) retry this as a fresh create.
		return FileRecord{}, ErrNotFound
	case expectedVersion != nil && existing.Version != *expectedVersion:
		return FileRecord{}, ErrVersionConflict
	}

	rec.Version = s.nextVersion(rec.UserID)
	rec.Deleted = false
	rec.DeletedAt = nil
	userFiles[rec.Path] = rec

	changeType := ChangeCreated
	if exists {
		changeType = ChangeUpdated
	}
	version := rec.Version
	s.changes[rec.UserID] = append(s.changes[rec.UserID], versionedChange{
		version: rec.Version,
		change:  Change{Type: changeType, Path: rec.Path, Version: &version},
	})

	return rec, nil
}

func (s *InMemoryFileStore) Get(ctx context.Context, userID, path string) (FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.files[userID][path]
	if !ok || rec.Deleted {
		return FileRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryFileStore) List(ctx context.Context, userID, prefix string) ([]FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []FileRecord
	for _, rec := range s.files[userID] {
		if rec.Deleted {
			continue
		}
		if prefix != "" && !strings.HasPrefix(rec.Path, prefix) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *InMemoryFileStore) SoftDelete(ctx context.Context, userID, path string) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userFiles := s.files[userID]
	rec, ok := userFiles[path]
	if !ok || rec.Deleted {
		return Change{}, ErrNotFound
	}

	now := time.Now()
	rec.Deleted = true
	rec.DeletedAt = &now
	rec.Version = s.nextVersion(userID)
	userFiles[path] = rec

	version := rec.Version
	change := Change{Type: ChangeDeleted, Path: path, Version: &version, DeletedAt: &now}
	s.changes[userID] = append(s.changes[userID], versionedChange{version: rec.Version, change: change})
	return change, nil
}

func (s *InMemoryFileStore) ChangesSince(ctx context.Context, userID, cursor string) ([]Change, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	min, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var out []Change
	cur := min
	for _, vc := range s.changes[userID] {
		if vc.version > min {
			out = append(out, vc.change)
			if vc.version > cur {
				cur = vc.version
			}
		}
	}
	return out, formatCursor(cur), nil
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	return strconv.ParseInt(cursor, 10, 64)
}

func formatCursor(v int64) string { return strconv.FormatInt(v, 10) }

// InMemoryBlobStore is a BlobStore backed by an in-process map.
type InMemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewInMemoryBlobStore constructs an empty store.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string][]byte)}
}

func (b *InMemoryBlobStore) Has(ctx context.Context, hash string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[hash]
	return ok, nil
}

func (b *InMemoryBlobStore) Put(ctx context.Context, hash string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.blobs[hash] = cp
	return nil
}

func (b *InMemoryBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
