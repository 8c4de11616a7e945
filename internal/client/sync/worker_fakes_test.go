package sync

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/syncagent/internal/client/sync/remoteapi"
)

// memStore is an in-memory Store used by the worker test suites, keeping
// the same semantics as state.SQLiteStore without touching a database.
type memStore struct {
	mu       sync.Mutex
	synced   map[RelativePath]SyncedFileRecord
	progress map[RelativePath]UploadProgress
	cursor   string
}

func newMemStore() *memStore {
	return &memStore{
		synced:   make(map[RelativePath]SyncedFileRecord),
		progress: make(map[RelativePath]UploadProgress),
	}
}

func (s *memStore) GetSyncedFile(ctx context.Context, path RelativePath) (SyncedFileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.synced[path]
	return rec, ok, nil
}

func (s *memStore) PutSyncedFile(ctx context.Context, rec SyncedFileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[rec.Path] = rec
	return nil
}

func (s *memStore) DeleteSyncedFile(ctx context.Context, path RelativePath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.synced, path)
	return nil
}

func (s *memStore) ListSyncedFiles(ctx context.Context) ([]SyncedFileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SyncedFileRecord, 0, len(s.synced))
	for _, rec := range s.synced {
		out = append(out, rec)
	}
	return out, nil
}

func (s *memStore) GetUploadProgress(ctx context.Context, path RelativePath) (UploadProgress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[path]
	return p, ok, nil
}

func (s *memStore) PutUploadProgress(ctx context.Context, p UploadProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[p.Path] = p
	return nil
}

func (s *memStore) ClearUploadProgress(ctx context.Context, path RelativePath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, path)
	return nil
}

func (s *memStore) GetChangeCursor(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *memStore) SetChangeCursor(ctx context.Context, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}

func (s *memStore) Close() error { return nil }

// fakeRemote is an in-memory remoteapi.RemoteAPI used by the worker test
// suites, storing chunks and file metadata in plain maps.
type fakeRemote struct {
	mu          sync.Mutex
	files       map[string]remoteapi.FileMetadata
	chunks      map[string][]byte
	nextVersion int64

	putChunkErr   error
	getFileErr    error
	createFileErr error
	updateFileErr error
	deleteFileErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:  make(map[string]remoteapi.FileMetadata),
		chunks: make(map[string][]byte),
	}
}

func (r *fakeRemote) CreateFile(ctx context.Context, req remoteapi.CreateOrUpdateRequest) (remoteapi.FileMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createFileErr != nil {
		return remoteapi.FileMetadata{}, r.createFileErr
	}
	r.nextVersion++
	meta := remoteapi.FileMetadata{
		Path: req.Path, Version: r.nextVersion, Size: req.Size, Mtime: req.Mtime,
		ContentHash: req.ContentHash, ChunkHashes: req.ChunkHashes,
	}
	r.files[req.Path] = meta
	return meta, nil
}

func (r *fakeRemote) UpdateFile(ctx context.Context, path string, req remoteapi.CreateOrUpdateRequest) (remoteapi.FileMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateFileErr != nil {
		return remoteapi.FileMetadata{}, r.updateFileErr
	}
	r.nextVersion++
	meta := remoteapi.FileMetadata{
		Path: path, Version: r.nextVersion, Size: req.Size, Mtime: req.Mtime,
		ContentHash: req.ContentHash, ChunkHashes: req.ChunkHashes,
	}
	r.files[path] = meta
	return meta, nil
}

func (r *fakeRemote) GetFile(ctx context.Context, path string) (remoteapi.FileMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getFileErr != nil {
		return remoteapi.FileMetadata{}, r.getFileErr
	}
	meta, ok := r.files[path]
	if !ok {
		return remoteapi.FileMetadata{}, &remoteapi.HTTPError{StatusCode: 404}
	}
	return meta, nil
}

func (r *fakeRemote) ListFiles(ctx context.Context, prefix string) ([]remoteapi.FileMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]remoteapi.FileMetadata, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}
	return out, nil
}

func (r *fakeRemote) Changes(ctx context.Context, since string) (remoteapi.ChangesResponse, error) {
	return remoteapi.ChangesResponse{}, nil
}

func (r *fakeRemote) DeleteFile(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteFileErr != nil {
		return r.deleteFileErr
	}
	delete(r.files, path)
	return nil
}

func (r *fakeRemote) HeadChunk(ctx context.Context, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.chunks[hash]
	return ok, nil
}

func (r *fakeRemote) PutChunk(ctx context.Context, hash string, encrypted []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.putChunkErr != nil {
		return r.putChunkErr
	}
	r.chunks[hash] = encrypted
	return nil
}

func (r *fakeRemote) GetChunk(ctx context.Context, hash string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.chunks[hash]
	if !ok {
		return nil, &remoteapi.HTTPError{StatusCode: 404}
	}
	return data, nil
}

func (r *fakeRemote) Subscribe(ctx context.Context, onMessage func(remoteapi.PushMessage)) error {
	<-ctx.Done()
	return ctx.Err()
}
