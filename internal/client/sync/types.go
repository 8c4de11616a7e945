// Package sync implements the client-side sync engine: change detection,
// event queueing, coordination, worker dispatch, conflict resolution and
// the local state store described for the syncagent project.
package sync

import (
	"path"
	"strings"
	"time"
)

// RelativePath is a normalized, forward-slash path relative to the sync
// root. It is the primary identifier used throughout the engine.
type RelativePath string

// Clean normalizes s into a RelativePath: forward slashes, no leading
// slash, and no ".." segments that would escape the sync root.
func Clean(s string) RelativePath {
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimPrefix(s, "/")
	cleaned := path.Clean(s)
	if cleaned == "." {
		return ""
	}
	return RelativePath(cleaned)
}

// EventType enumerates the kinds of SyncEvent the engine understands.
type EventType int

const (
	LocalCreated EventType = iota
	LocalModified
	LocalDeleted
	RemoteCreated
	RemoteModified
	RemoteDeleted
	TransferComplete
	TransferFailed
)

func (t EventType) String() string {
	switch t {
	case LocalCreated:
		return "LOCAL_CREATED"
	case LocalModified:
		return "LOCAL_MODIFIED"
	case LocalDeleted:
		return "LOCAL_DELETED"
	case RemoteCreated:
		return "REMOTE_CREATED"
	case RemoteModified:
		return "REMOTE_MODIFIED"
	case RemoteDeleted:
		return "REMOTE_DELETED"
	case TransferComplete:
		return "TRANSFER_COMPLETE"
	case TransferFailed:
		return "TRANSFER_FAILED"
	default:
		return "UNKNOWN"
	}
}

// EventSource identifies who raised a SyncEvent.
type EventSource int

const (
	SourceLocal EventSource = iota
	SourceRemote
	SourceInternal
)

// Priority is the queue's service order; lower values are served first.
type Priority int

const (
	PriorityCritical Priority = 10 // DELETE events
	PriorityHigh     Priority = 20 // local changes
	PriorityNormal   Priority = 30 // remote changes
	PriorityLow      Priority = 90 // internal TRANSFER_* bookkeeping
)

// priorityOf implements the declarative priority table keyed on event type.
func priorityOf(t EventType) Priority {
	switch t {
	case LocalDeleted, RemoteDeleted:
		return PriorityCritical
	case LocalCreated, LocalModified:
		return PriorityHigh
	case RemoteCreated, RemoteModified:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// EventMetadata carries the optional fields attached to a SyncEvent.
// mtime/size are read at the moment the emitter observed the file, never
// at emission time — this is what makes mtime-aware dedup correct.
type EventMetadata struct {
	Mtime          *float64
	Size           *int64
	ParentVersion  *int64
	ServerVersion  *int64
	ContentHash    string
}

// SyncEvent is an immutable description of a single detected change.
type SyncEvent struct {
	ID        string
	Type      EventType
	Source    EventSource
	Path      RelativePath
	Timestamp time.Time
	Metadata  EventMetadata
}

// Priority returns the declarative priority for this event's type.
func (e SyncEvent) Priority() Priority {
	return priorityOf(e.Type)
}

// TransferKind enumerates the three worker operations.
type TransferKind int

const (
	Upload TransferKind = iota
	Download
	Delete
)

func (k TransferKind) String() string {
	switch k {
	case Upload:
		return "UPLOAD"
	case Download:
		return "DOWNLOAD"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// TransferStatus is the lifecycle state of a Transfer.
type TransferStatus int

const (
	Pending TransferStatus = iota
	InProgress
	Completed
	Cancelled
	Failed
)

func (s TransferStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is a status from which a Transfer is removed.
func (s TransferStatus) IsTerminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// SyncedFileRecord is the authoritative local statement of "the last
// known-good sync" for a path. A record exists iff the client has ever
// successfully committed a sync for Path.
type SyncedFileRecord struct {
	Path          RelativePath
	LocalMtime    float64
	LocalSize     int64
	ServerVersion int64
	ChunkHashes   []string
	SyncedAt      time.Time
}

// FileStatus is the derived (never stored) status of a path.
type FileStatus int

const (
	StatusSynced FileStatus = iota
	StatusNew
	StatusModified
	StatusDeleted
	StatusConflictPending
)

// UploadProgress is the persisted, resumable record of an in-flight upload.
type UploadProgress struct {
	Path                 RelativePath
	ExpectedChunkHashes  []string
	UploadedChunkHashes  []string
	StartedAt            time.Time
}

// remaining returns the expected chunk hashes not yet present in Uploaded.
func (p UploadProgress) remaining() []string {
	done := make(map[string]struct{}, len(p.UploadedChunkHashes))
	for _, h := range p.UploadedChunkHashes {
		done[h] = struct{}{}
	}
	out := make([]string, 0, len(p.ExpectedChunkHashes))
	for _, h := range p.ExpectedChunkHashes {
		if _, ok := done[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// matches reports whether freshly computed chunk hashes still agree with
// what this progress record expected when the upload began.
func (p UploadProgress) matches(freshHashes []string) bool {
	if len(p.ExpectedChunkHashes) != len(freshHashes) {
		return false
	}
	for i, h := range p.ExpectedChunkHashes {
		if freshHashes[i] != h {
			return false
		}
	}
	return true
}
