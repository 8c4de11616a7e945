package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/syncagent/internal/client/sync/remoteapi"
)

// epoch is the cursor used for the very first remote scan, grounded on
// original_source's EPOCH constant.
var epoch = time.Unix(0, 0).UTC()

// LocalChange is one locally observed create/modify, carrying the
// mtime/size needed for MtimeAwareComparator-style dedup downstream.
type LocalChange struct {
	Path  RelativePath
	Mtime float64
	Size  int64
}

// LocalChanges is the result of one Scanner.ScanLocal pass.
type LocalChanges struct {
	Created  []LocalChange
	Modified []LocalChange
	Deleted  []RelativePath
}

// RemoteChanges is the result of one Scanner.FetchRemote pass.
type RemoteChanges struct {
	Created  []string
	Modified []string
	Deleted  []string
}

// Scanner periodically reconciles local disk state and remote server
// state against the local store, emitting SyncEvents for anything out
// of sync — grounded on original_source's ChangeScanner/emit_events,
// generalized from os.walk to filepath.WalkDir and from a single
// combined scan to separately callable local/remote passes so the
// engine can run them on independent schedules.
type Scanner struct {
	Root   string
	Remote remoteapi.RemoteAPI
	Store  Store
	Ignore *IgnoreSet
	Queue  *EventQueue
	Logger *slog.Logger
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ScanLocal walks the sync root comparing what it finds against the
// store's synced-file records. It makes no network calls.
func (s *Scanner) ScanLocal(ctx context.Context) (LocalChanges, error) {
	var changes LocalChanges
	found := make(map[RelativePath]struct{})

	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == s.Root {
			return nil
		}
		rel := relFromRoot(s.Root, p)
		if d.IsDir() {
			if s.Ignore.ShouldIgnore(string(rel), true) {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // racing deletion; treat as not-found below
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if s.Ignore.ShouldIgnore(string(rel), false) {
			return nil
		}
		found[rel] = struct{}{}

		mtime := float64(info.ModTime().UnixNano()) / 1e9
		size := info.Size()

		record, ok, getErr := s.Store.GetSyncedFile(ctx, rel)
		if getErr != nil {
			return getErr
		}
		switch {
		case !ok:
			changes.Created = append(changes.Created, LocalChange{Path: rel, Mtime: mtime, Size: size})
		case mtime > record.LocalMtime || size != record.LocalSize:
			changes.Modified = append(changes.Modified, LocalChange{Path: rel, Mtime: mtime, Size: size})
		}
		return nil
	})
	if err != nil {
		return LocalChanges{}, err
	}

	synced, err := s.Store.ListSyncedFiles(ctx)
	if err != nil {
		return LocalChanges{}, err
	}
	for _, rec := range synced {
		if _, ok := found[rec.Path]; !ok {
			changes.Deleted = append(changes.Deleted, rec.Path)
		}
	}

	return changes, nil
}

// FetchRemote fetches changes since the store's saved cursor, falling
// back to a full ListFiles comparison if the incremental endpoint
// fails for a non-network reason. Network errors are returned as-is so
// the caller can retry via WaitForReachable.
func (s *Scanner) FetchRemote(ctx context.Context) (RemoteChanges, error) {
	cursor, err := s.Store.GetChangeCursor(ctx)
	if err != nil {
		return RemoteChanges{}, err
	}
	if cursor == "" {
		cursor = epoch.Format(time.RFC3339Nano)
	}

	resp, err := s.Remote.Changes(ctx, cursor)
	if err != nil {
		s.logger().Warn("incremental change fetch failed, falling back to full listing", "error", err)
		return s.fetchRemoteFallback(ctx)
	}

	var changes RemoteChanges
	for _, c := range resp.Changes {
		rel := Clean(c.Path)
		record, ok, getErr := s.Store.GetSyncedFile(ctx, rel)
		if getErr != nil {
			return RemoteChanges{}, getErr
		}

		switch c.Type {
		case remoteapi.ChangeCreated:
			if !ok {
				changes.Created = append(changes.Created, c.Path)
			}
		case remoteapi.ChangeUpdated:
			if ok && c.Version != nil && record.ServerVersion != *c.Version {
				changes.Modified = append(changes.Modified, c.Path)
			} else if !ok {
				changes.Created = append(changes.Created, c.Path)
			}
		case remoteapi.ChangeDeleted:
			changes.Deleted = append(changes.Deleted, c.Path)
		}
	}

	if resp.Cursor != "" {
		if err := s.Store.SetChangeCursor(ctx, resp.Cursor); err != nil {
			return RemoteChanges{}, err
		}
	}
	return changes, nil
}

func (s *Scanner) fetchRemoteFallback(ctx context.Context) (RemoteChanges, error) {
	var changes RemoteChanges

	files, err := s.Remote.ListFiles(ctx, "")
	if err != nil {
		return RemoteChanges{}, err
	}
	for _, f := range files {
		rel := Clean(f.Path)
		record, ok, getErr := s.Store.GetSyncedFile(ctx, rel)
		if getErr != nil {
			return RemoteChanges{}, getErr
		}
		switch {
		case !ok:
			changes.Created = append(changes.Created, f.Path)
		case record.ServerVersion != f.Version:
			changes.Modified = append(changes.Modified, f.Path)
		}
	}
	// The fallback listing cannot observe remote deletions.
	return changes, nil
}

// Emit pushes SyncEvents for local and remote changes onto the queue,
// resolving same-path double-sided changes the way
// original_source's emit_events does: a genuine local+remote content
// conflict is left for the coordinator/workers to resolve (both sides
// are queued); a local delete racing a remote modification lets the
// remote modification win, and a local modification racing a remote
// delete lets the local modification win.
func (s *Scanner) Emit(local LocalChanges, remote RemoteChanges) {
	localContent := make(map[RelativePath]struct{})
	for _, c := range local.Created {
		localContent[c.Path] = struct{}{}
	}
	for _, c := range local.Modified {
		localContent[c.Path] = struct{}{}
	}
	localDeleted := make(map[RelativePath]struct{})
	for _, p := range local.Deleted {
		localDeleted[p] = struct{}{}
	}
	remoteContent := make(map[string]struct{})
	for _, p := range remote.Created {
		remoteContent[p] = struct{}{}
	}
	for _, p := range remote.Modified {
		remoteContent[p] = struct{}{}
	}

	skipLocalDelete := make(map[RelativePath]struct{})
	for p := range localDeleted {
		if _, ok := remoteContent[string(p)]; ok {
			skipLocalDelete[p] = struct{}{}
		}
	}

	now := time.Now()
	put := func(evt SyncEvent) {
		if err := s.Queue.Put(evt); err != nil {
			s.logger().Warn("scanner failed to queue event", "path", string(evt.Path), "error", err)
		}
	}

	for _, c := range local.Created {
		mtime, size := c.Mtime, c.Size
		put(SyncEvent{Type: LocalCreated, Source: SourceLocal, Path: c.Path, Timestamp: now, Metadata: EventMetadata{Mtime: &mtime, Size: &size}})
	}
	for _, c := range local.Modified {
		mtime, size := c.Mtime, c.Size
		put(SyncEvent{Type: LocalModified, Source: SourceLocal, Path: c.Path, Timestamp: now, Metadata: EventMetadata{Mtime: &mtime, Size: &size}})
	}
	for _, p := range local.Deleted {
		if _, skip := skipLocalDelete[p]; skip {
			s.logger().Debug("remote modification wins over local deletion", "path", string(p))
			continue
		}
		put(SyncEvent{Type: LocalDeleted, Source: SourceLocal, Path: p, Timestamp: now})
	}

	for _, p := range remote.Created {
		put(SyncEvent{Type: RemoteCreated, Source: SourceRemote, Path: Clean(p), Timestamp: now})
	}
	for _, p := range remote.Modified {
		put(SyncEvent{Type: RemoteModified, Source: SourceRemote, Path: Clean(p), Timestamp: now})
	}
	for _, p := range remote.Deleted {
		rel := Clean(p)
		if _, skip := localContent[rel]; skip {
			s.logger().Debug("local modification wins over remote deletion", "path", p)
			continue
		}
		put(SyncEvent{Type: RemoteDeleted, Source: SourceRemote, Path: rel, Timestamp: now})
	}
}

func relFromRoot(root, p string) RelativePath {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return Clean(p)
	}
	return Clean(filepath.ToSlash(rel))
}
