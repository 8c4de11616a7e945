// Package remoteapi is the client for the sync engine's remote HTTP/WS
// contract: file metadata CRUD, chunk storage, and change notification.
package remoteapi

import (
	"context"
	"time"
)

// FileMetadata is the server's view of a synced file.
type FileMetadata struct {
	Path        string   `json:"path"`
	Version     int64    `json:"version"`
	Size        int64    `json:"size"`
	Mtime       float64  `json:"mtime"`
	ContentHash string   `json:"content_hash"`
	ChunkHashes []string `json:"chunk_hashes"`
}

// CreateOrUpdateRequest is the body for POST /files and PUT /files/{path}.
type CreateOrUpdateRequest struct {
	Path          string   `json:"path"`
	Size          int64    `json:"size"`
	Mtime         float64  `json:"mtime"`
	ChunkHashes   []string `json:"chunk_hashes"`
	ContentHash   string   `json:"content_hash"`
	ParentVersion *int64   `json:"parent_version,omitempty"`
}

// VersionConflictError is returned for a 409 response to an update,
// carrying the server's current state so the conflict subsystem can act.
type VersionConflictError struct {
	CurrentVersion int64  `json:"current_version"`
	ContentHash    string `json:"content_hash"`
}

func (e *VersionConflictError) Error() string {
	return "remoteapi: version conflict"
}

// ChangeType enumerates entries returned by Changes.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is one entry in a Changes response.
type Change struct {
	Type      ChangeType `json:"type"`
	Path      string     `json:"path"`
	Version   *int64     `json:"version,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ChangesResponse is the body of GET /changes?since=.
type ChangesResponse struct {
	Changes []Change `json:"changes"`
	Cursor  string   `json:"cursor"`
}

// PushMessage is a server->client WebSocket frame on /ws/changes.
type PushMessage struct {
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Version int64  `json:"version,omitempty"`
}

// RemoteAPI is the narrow contract the sync engine consumes — the Go
// mirror of spec.md §6.1's endpoint list.
type RemoteAPI interface {
	CreateFile(ctx context.Context, req CreateOrUpdateRequest) (FileMetadata, error)
	UpdateFile(ctx context.Context, path string, req CreateOrUpdateRequest) (FileMetadata, error)
	GetFile(ctx context.Context, path string) (FileMetadata, error)
	ListFiles(ctx context.Context, prefix string) ([]FileMetadata, error)
	Changes(ctx context.Context, since string) (ChangesResponse, error)
	DeleteFile(ctx context.Context, path string) error
	HeadChunk(ctx context.Context, hash string) (bool, error)
	PutChunk(ctx context.Context, hash string, encrypted []byte) error
	GetChunk(ctx context.Context, hash string) ([]byte, error)
	Subscribe(ctx context.Context, onMessage func(PushMessage)) error
}
