package sync

import "context"

// Store is the local persistence contract the engine consumes: the
// authoritative "last known-good sync" record per path, resumable
// upload progress, and the remote change-polling cursor. Implemented by
// internal/client/sync/state.SQLiteStore; defined here (rather than in
// the state package) so workers and the coordinator can depend on it
// without state importing back into this package.
type Store interface {
	GetSyncedFile(ctx context.Context, path RelativePath) (SyncedFileRecord, bool, error)
	PutSyncedFile(ctx context.Context, rec SyncedFileRecord) error
	DeleteSyncedFile(ctx context.Context, path RelativePath) error
	ListSyncedFiles(ctx context.Context) ([]SyncedFileRecord, error)

	GetUploadProgress(ctx context.Context, path RelativePath) (UploadProgress, bool, error)
	PutUploadProgress(ctx context.Context, p UploadProgress) error
	ClearUploadProgress(ctx context.Context, path RelativePath) error

	GetChangeCursor(ctx context.Context) (string, error)
	SetChangeCursor(ctx context.Context, cursor string) error

	Close() error
}
