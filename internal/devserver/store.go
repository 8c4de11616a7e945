package devserver

import (
	"context"
	"errors"
)

// ErrNotFound is returned by FileStore/UserStore/RefreshTokenStore
// lookups for a missing row, mirroring internal/common.ErrorNotFound's
// role in the teacher's repositories.
var ErrNotFound = errors.New("devserver: not found")

// ErrVersionConflict is returned by FileStore.CreateOrUpdate when the
// caller's expected parent version does not match the row currently on
// the server, mirroring the teacher's files repository's optimistic
// concurrency check (there raised as common.ErrVersionConflict).
var ErrVersionConflict = errors.New("devserver: version conflict")

// FileStore is the server-side persistence contract for §6.1's file
// metadata endpoints, generalized from the teacher's files.Repository
// (CreateOrUpdate/SelectUpdated/GetByEntryID over entry_id) to the sync
// agent's path-keyed, per-user, soft-deletable shape.
type FileStore interface {
	// CreateOrUpdate inserts path for userID at version 1, or updates it
	// if expectedVersion matches the row's current version. A nil
	// expectedVersion only succeeds when the path does not exist yet.
	// Returns the row as persisted (with its new Version) or
	// ErrVersionConflict if expectedVersion didn't match.
	CreateOrUpdate(ctx context.Context, rec FileRecord, expectedVersion *int64) (FileRecord, error)

	// Get returns the current (non-deleted) row for userID/path.
	Get(ctx context.Context, userID, path string) (FileRecord, error)

	// List returns every non-deleted row for userID whose path has the
	// given prefix (prefix=="" lists everything).
	List(ctx context.Context, userID, prefix string) ([]FileRecord, error)

	// SoftDelete marks path as deleted, bumping its version, and
	// returns the deletion's new version and timestamp via the
	// returned Change.
	SoftDelete(ctx context.Context, userID, path string) (Change, error)

	// ChangesSince returns every Change with a version greater than the
	// one encoded in cursor ("" means "from the beginning"), plus the
	// opaque cursor to resume from after this batch.
	ChangesSince(ctx context.Context, userID, cursor string) ([]Change, string, error)
}

// BlobStore is the server-side persistence contract for §6.1's chunk
// endpoints, generalized from the teacher's EntryService presigned-URL
// flow (one presigned PUT per whole file) into direct byte-proxying per
// content-addressed chunk hash, since the sync engine uploads many small
// immutable chunks rather than one mutable blob per file.
type BlobStore interface {
	Has(ctx context.Context, hash string) (bool, error)
	Put(ctx context.Context, hash string, data []byte) error
	Get(ctx context.Context, hash string) ([]byte, error)
}
