package devserver

import "time"

// FileRecord is the server-side row backing one synced path for one
// user, generalized from the teacher's models.File (entry_id/storage_key
// shape, one presigned blob per entry) into the sync agent's path/version
// shape with an inline content hash and chunk list, since spec.md §6.1
// models a file as chunk references rather than a single opaque blob.
type FileRecord struct {
	UserID      string
	Path        string
	Version     int64
	Size        int64
	Mtime       float64
	ContentHash string
	ChunkHashes []string
	Deleted     bool
	DeletedAt   *time.Time
}

// ChangeType mirrors remoteapi.ChangeType; kept as a distinct type here
// so the store package has no import-time dependency on the client tree.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is one row of a changes-since-cursor answer.
type Change struct {
	Type      ChangeType
	Path      string
	Version   *int64
	DeletedAt *time.Time
}

// User is a devserver account. Passwords are stored as bcrypt hashes;
// this is a single-purpose reference auth store, not a full identity
// system — grounded on the teacher's models.User, trimmed of the
// vault-specific Salt/MasterKeyVerifier fields.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}
