package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/syncagent/internal/client/sync/chunk"
	"github.com/dmitrijs2005/syncagent/internal/client/sync/remoteapi"
)

// UploadWorker implements Worker for LOCAL_CREATED/LOCAL_MODIFIED
// events: chunk, encrypt, upload any chunks the server doesn't already
// have, then commit the file's metadata — grounded on
// original_source's FileUploader, generalized from whole-file-in-memory
// chunking to a streaming chunk.Chunker and resumed via Store instead of
// an in-process set.
//
// Downloader and Queue back the conflict-resolution path (§4.5): when
// the server has moved past the version this upload expected, the
// worker preserves the local file under a conflict name, uses
// Downloader to pull the server's canonical content into place, and
// re-enqueues the preserved file via Queue so it gets uploaded under
// its own name.
type UploadWorker struct {
	Root        string
	Remote      remoteapi.RemoteAPI
	Store       Store
	Key         []byte
	Chunker     *chunk.Chunker
	MachineName string
	Downloader  *DownloadWorker
	Queue       *EventQueue
	MaxRetries  int
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

func (w *UploadWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *UploadWorker) Execute(ctx context.Context, event SyncEvent, progress func(current, total int64)) error {
	localPath := filepath.Join(w.Root, filepath.FromSlash(string(event.Path)))

	info, err := os.Stat(localPath)
	if err != nil {
		return NewError(KindLocalIO, event.Path, err)
	}

	parentVersion := w.parentVersion(ctx, event)

	// Step 3 of §4.4: pre-transfer conflict check. Ask the server where
	// it actually is before spending any time chunking — a stale
	// parent_version means the upload is doomed anyway.
	if parentVersion != nil {
		remoteMeta, getErr := w.Remote.GetFile(ctx, string(event.Path))
		switch {
		case isNotFoundStatus(getErr):
			// Server has nothing at this path despite our expected
			// parent version; fall through to the normal upload, whose
			// UpdateFile->CreateFile fallback below handles this.
		case getErr != nil:
			return NewError(KindNetworkTransient, event.Path, getErr)
		default:
			outcome := CheckPreUpload(ConflictContext{ExpectedVersion: parentVersion, ServerVersion: &remoteMeta.Version})
			if outcome != NoConflict {
				handled, resErr := w.resolveConflict(ctx, event, localPath, remoteMeta.Version, remoteMeta.ContentHash)
				if handled {
					return resErr
				}
			}
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return NewError(KindLocalIO, event.Path, err)
	}
	chunks, err := w.Chunker.Split(f)
	f.Close()
	if err != nil {
		return NewError(KindLocalIO, event.Path, err)
	}

	chunkHashes := make([]string, len(chunks))
	for i, c := range chunks {
		chunkHashes[i] = c.Hash
	}
	contentHash := fileContentHash(chunks)

	already := w.resumeProgress(ctx, event.Path, chunkHashes)

	for i, c := range chunks {
		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
		}

		if already[c.Hash] {
			continue
		}
		if err := w.uploadChunkWithRetry(ctx, event.Path, c); err != nil {
			return err
		}
		if progress != nil {
			progress(int64(i+1), int64(len(chunks)))
		}
	}

	req := remoteapi.CreateOrUpdateRequest{
		Path:          string(event.Path),
		Size:          info.Size(),
		Mtime:         float64(info.ModTime().UnixNano()) / 1e9,
		ChunkHashes:   chunkHashes,
		ContentHash:   contentHash,
		ParentVersion: parentVersion,
	}

	var serverFile remoteapi.FileMetadata
	if parentVersion == nil {
		serverFile, err = w.Remote.CreateFile(ctx, req)
	} else {
		serverFile, err = w.Remote.UpdateFile(ctx, string(event.Path), req)
	}

	if err != nil {
		if vc, ok := err.(*remoteapi.VersionConflictError); ok {
			handled, resErr := w.resolveConflict(ctx, event, localPath, vc.CurrentVersion, vc.ContentHash)
			if handled {
				return resErr
			}
			return NewError(KindVersionConflict, event.Path, vc)
		}
		if isNotFoundStatus(err) && parentVersion != nil {
			// The update target is gone (e.g. deleted-on-server while we
			// were editing it locally — S6). Retry as a fresh create
			// rather than surfacing a spurious failure.
			w.logger().Info("update target vanished, retrying as create", "path", string(event.Path))
			serverFile, err = w.Remote.CreateFile(ctx, req)
			if err != nil {
				if vc, ok := err.(*remoteapi.VersionConflictError); ok {
					handled, resErr := w.resolveConflict(ctx, event, localPath, vc.CurrentVersion, vc.ContentHash)
					if handled {
						return resErr
					}
					return NewError(KindVersionConflict, event.Path, vc)
				}
				return NewError(KindNetworkTransient, event.Path, err)
			}
		} else {
			return NewError(KindNetworkTransient, event.Path, err)
		}
	}

	return w.commit(ctx, event, info, req.Mtime, chunkHashes, serverFile)
}

// parentVersion resolves the version this upload was computed against:
// the event's own metadata if the emitter already knew it (populated by
// the decision/scanner layer), otherwise the last version this client
// itself successfully synced.
func (w *UploadWorker) parentVersion(ctx context.Context, event SyncEvent) *int64 {
	if event.Metadata.ParentVersion != nil {
		v := *event.Metadata.ParentVersion
		return &v
	}
	if existing, ok, _ := w.Store.GetSyncedFile(ctx, event.Path); ok {
		v := existing.ServerVersion
		return &v
	}
	return nil
}

func isNotFoundStatus(err error) bool {
	he, ok := err.(*remoteapi.HTTPError)
	return ok && (he.StatusCode == 404 || he.StatusCode == 410)
}

// resolveConflict implements spec.md §4.5's upload conflict-resolution
// sequence once the server is known to be at a version other than the
// one this upload expected: compare content hashes to tell a false
// conflict (server already has our exact bytes) from a true one, then
// for a true conflict preserve the local file under a conflict name,
// pull the server's canonical content into the real path via
// Downloader, and re-enqueue the preserved file for its own upload.
//
// handled reports whether the caller should stop and return err as-is
// rather than continuing the normal upload/commit path.
func (w *UploadWorker) resolveConflict(ctx context.Context, event SyncEvent, localPath string, serverVersion int64, serverContentHash string) (handled bool, err error) {
	localHash, hashErr := w.hashLocalFile(localPath)
	if hashErr != nil {
		return true, NewError(KindLocalIO, event.Path, hashErr)
	}

	if serverContentHash != "" && localHash == serverContentHash {
		if err := w.adoptServerVersion(ctx, event.Path, localPath); err != nil {
			return true, err
		}
		w.logger().Info("upload already synced with server content", "path", string(event.Path), "server_version", serverVersion)
		return true, nil
	}

	resolution := Resolve(PostTransfer, ConflictContext{LocalPath: localPath, RelativePath: event.Path}, w.MachineName, time.Now())
	switch resolution.Outcome {
	case RetryNeeded:
		return true, NewError(KindNetworkTransient, event.Path, errors.New(resolution.Message))
	case Abort:
		return true, NewError(KindStateCorruption, event.Path, errors.New(resolution.Message))
	case Resolved:
		w.logger().Info("upload conflict detected, local copy preserved", "path", string(event.Path), "conflict_path", resolution.ConflictPath)
	case NoConflict:
		// Local file vanished between detection and here; nothing to
		// preserve, just pick up the server's copy below.
	}

	if w.Downloader != nil {
		dlEvent := SyncEvent{Path: event.Path, Type: RemoteModified, Source: SourceRemote, Timestamp: time.Now()}
		if err := w.Downloader.Execute(ctx, dlEvent, nil); err != nil {
			return true, err
		}
	}

	if resolution.Outcome == Resolved && resolution.ConflictPath != "" {
		enqueueConflictCopy(w.Queue, w.Root, resolution.ConflictPath, w.logger())
	}

	return true, nil
}

// hashLocalFile computes the same whole-file content hash the upload
// path sends the server, from disk rather than from already-split
// chunks.
func (w *UploadWorker) hashLocalFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return chunk.HashBytes(data), nil
}

// adoptServerVersion records the server's current metadata as this
// client's synced state without re-uploading, for the ALREADY_SYNCED
// case where the server already has our exact bytes under a version we
// didn't know about.
func (w *UploadWorker) adoptServerVersion(ctx context.Context, path RelativePath, localPath string) error {
	meta, err := w.Remote.GetFile(ctx, string(path))
	if err != nil {
		return NewError(KindNetworkTransient, path, err)
	}
	var mtime float64
	if info, statErr := os.Stat(localPath); statErr == nil {
		mtime = float64(info.ModTime().UnixNano()) / 1e9
	}
	if err := w.Store.PutSyncedFile(ctx, SyncedFileRecord{
		Path: path, LocalMtime: mtime, LocalSize: meta.Size,
		ServerVersion: meta.Version, ChunkHashes: meta.ChunkHashes, SyncedAt: time.Now(),
	}); err != nil {
		return NewError(KindLocalIO, path, err)
	}
	_ = w.Store.ClearUploadProgress(ctx, path)
	return nil
}

// enqueueConflictCopy re-raises the preserved local file at
// conflictAbsPath as a new LOCAL_CREATED event so it gets uploaded
// under its own conflict filename instead of silently sitting on disk.
// Shared by both UploadWorker and DownloadWorker's conflict paths.
func enqueueConflictCopy(queue *EventQueue, root, conflictAbsPath string, logger *slog.Logger) {
	if queue == nil || conflictAbsPath == "" {
		return
	}
	rel, err := filepath.Rel(root, conflictAbsPath)
	if err != nil {
		logger.Warn("cannot relativize conflict path, not re-queued", "path", conflictAbsPath, "error", err)
		return
	}

	var meta EventMetadata
	if info, statErr := os.Stat(conflictAbsPath); statErr == nil {
		mtime := float64(info.ModTime().UnixNano()) / 1e9
		size := info.Size()
		meta = EventMetadata{Mtime: &mtime, Size: &size}
	}

	relPath := Clean(filepath.ToSlash(rel))
	if err := queue.Put(SyncEvent{
		Type: LocalCreated, Source: SourceInternal, Path: relPath, Timestamp: time.Now(), Metadata: meta,
	}); err != nil {
		logger.Warn("failed to enqueue conflict copy for upload", "path", string(relPath), "error", err)
	}
}

func (w *UploadWorker) commit(ctx context.Context, event SyncEvent, info os.FileInfo, mtime float64, chunkHashes []string, serverFile remoteapi.FileMetadata) error {
	if err := w.Store.PutSyncedFile(ctx, SyncedFileRecord{
		Path:          event.Path,
		LocalMtime:    mtime,
		LocalSize:     info.Size(),
		ServerVersion: serverFile.Version,
		ChunkHashes:   chunkHashes,
		SyncedAt:      time.Now(),
	}); err != nil {
		return NewError(KindLocalIO, event.Path, err)
	}
	_ = w.Store.ClearUploadProgress(ctx, event.Path)

	w.logger().Info("uploaded file", "path", string(event.Path), "chunks", len(chunkHashes), "server_version", serverFile.Version)
	return nil
}

// resumeProgress checks Store for a prior, matching upload attempt and
// returns the set of chunk hashes already on the server, starting fresh
// tracking otherwise.
func (w *UploadWorker) resumeProgress(ctx context.Context, path RelativePath, chunkHashes []string) map[string]bool {
	already := make(map[string]bool)

	prog, ok, err := w.Store.GetUploadProgress(ctx, path)
	if err == nil && ok {
		if stringsEqual(prog.ExpectedChunkHashes, chunkHashes) {
			for _, h := range prog.UploadedChunkHashes {
				already[h] = true
			}
			w.logger().Info("resuming upload", "path", string(path), "already_uploaded", len(already), "total", len(chunkHashes))
			return already
		}
		w.logger().Info("file changed since last upload attempt, starting fresh", "path", string(path))
		_ = w.Store.ClearUploadProgress(ctx, path)
	}

	_ = w.Store.PutUploadProgress(ctx, UploadProgress{
		Path:                path,
		ExpectedChunkHashes: chunkHashes,
		UploadedChunkHashes: nil,
		StartedAt:           time.Now(),
	})
	return already
}

func (w *UploadWorker) uploadChunkWithRetry(ctx context.Context, path RelativePath, c chunk.Chunk) error {
	exists, err := w.Remote.HeadChunk(ctx, c.Hash)
	if err == nil && exists {
		w.markChunkUploaded(ctx, path, c.Hash)
		return nil
	}

	encrypted, err := chunk.EncryptChunk(c.Data, w.Key)
	if err != nil {
		return NewError(KindIntegrity, path, err)
	}

	schedule := RetrySchedule(w.MaxRetries, w.MaxDelay)
	err = Do(ctx, schedule, func(ctx context.Context) error {
		if putErr := w.Remote.PutChunk(ctx, c.Hash, encrypted); putErr != nil {
			return retryableNetworkError(putErr)
		}
		return nil
	})
	if err != nil {
		return NewError(KindNetworkTransient, path, err)
	}

	w.markChunkUploaded(ctx, path, c.Hash)
	return nil
}

func (w *UploadWorker) markChunkUploaded(ctx context.Context, path RelativePath, hash string) {
	prog, ok, err := w.Store.GetUploadProgress(ctx, path)
	if err != nil || !ok {
		return
	}
	prog.UploadedChunkHashes = append(prog.UploadedChunkHashes, hash)
	_ = w.Store.PutUploadProgress(ctx, prog)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fileContentHash(chunks []chunk.Chunk) string {
	var all []byte
	for _, c := range chunks {
		all = append(all, c.Data...)
	}
	return chunk.HashBytes(all)
}
