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

// ErrRetryNeeded marks a download aborted because a local edit raced
// it: the file on disk changed between the pre-download stat and the
// point where the worker was about to overwrite it. The transfer fails
// without clobbering, and the concurrent local edit's own event carries
// the retry forward through the coordinator's decision matrix.
var ErrRetryNeeded = errors.New("local file changed during download, retry needed")

// DownloadWorker implements Worker for REMOTE_CREATED/REMOTE_MODIFIED
// events: fetch chunk metadata, download+decrypt+verify each chunk,
// assemble into a temp file, then atomically rename into place —
// grounded on original_source's FileDownloader.
//
// Queue backs the conflict-resolution path (§4.5): when a pre-transfer
// check finds an untracked or locally-modified file at the download's
// target path, the worker preserves it under a conflict name and
// re-enqueues it via Queue so it still gets uploaded.
type DownloadWorker struct {
	Root        string
	Remote      remoteapi.RemoteAPI
	Store       Store
	Key         []byte
	MachineName string
	Queue       *EventQueue
	MaxRetries  int
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

func (w *DownloadWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *DownloadWorker) Execute(ctx context.Context, event SyncEvent, progress func(current, total int64)) error {
	meta, err := w.Remote.GetFile(ctx, string(event.Path))
	if err != nil {
		return NewError(KindNetworkTransient, event.Path, err)
	}

	localPath := filepath.Join(w.Root, filepath.FromSlash(string(event.Path)))

	// Step 2 of §4.4: pre-transfer conflict check — would downloading
	// the server's version clobber local changes the state store
	// doesn't know about?
	if handled, err := w.checkPreTransfer(ctx, event, localPath); handled {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return NewError(KindLocalIO, event.Path, err)
	}

	preExists := false
	var preMtime time.Time
	if info, statErr := os.Stat(localPath); statErr == nil {
		preExists = true
		preMtime = info.ModTime()
	}

	tmpPath := localPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return NewError(KindLocalIO, event.Path, err)
	}

	if err := w.downloadChunks(ctx, event.Path, meta, f, progress); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return NewError(KindLocalIO, event.Path, err)
	}

	// Step 4 of §4.4: post-download restat check — a local edit may have
	// landed while the (potentially large, chunk-by-chunk) download was
	// in flight. Abort rather than clobber it; the local edit's own
	// event will resolve through the decision matrix on its own.
	if info, statErr := os.Stat(localPath); statErr == nil {
		if !preExists || !info.ModTime().Equal(preMtime) {
			os.Remove(tmpPath)
			return NewError(KindLocalIO, event.Path, ErrRetryNeeded)
		}
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return NewError(KindLocalIO, event.Path, err)
	}

	info, statErr := os.Stat(localPath)
	var mtime float64
	if statErr == nil {
		mtime = float64(info.ModTime().UnixNano()) / 1e9
	}

	if err := w.Store.PutSyncedFile(ctx, SyncedFileRecord{
		Path:          event.Path,
		LocalMtime:    mtime,
		LocalSize:     meta.Size,
		ServerVersion: meta.Version,
		ChunkHashes:   meta.ChunkHashes,
		SyncedAt:      time.Now(),
	}); err != nil {
		return NewError(KindLocalIO, event.Path, err)
	}

	w.logger().Info("downloaded file", "path", string(event.Path), "chunks", len(meta.ChunkHashes), "server_version", meta.Version)
	return nil
}

// checkPreTransfer implements §4.5's pre-download half: it compares the
// file currently on disk against the last known-good SyncedFileRecord
// for this path (CheckPreDownload) and, if that disagrees with what the
// download is about to overwrite, preserves the local file under a
// conflict name before letting the download proceed.
//
// handled reports whether the caller should stop and return err as-is.
func (w *DownloadWorker) checkPreTransfer(ctx context.Context, event SyncEvent, localPath string) (handled bool, err error) {
	existing, hasRecord, _ := w.Store.GetSyncedFile(ctx, event.Path)

	var localMtime *float64
	var localSize *int64
	if hasRecord {
		m, s := existing.LocalMtime, existing.LocalSize
		localMtime, localSize = &m, &s
	}

	outcome := CheckPreDownload(ConflictContext{LocalPath: localPath, RelativePath: event.Path, LocalMtime: localMtime, LocalSize: localSize})
	if outcome != Resolved {
		return false, nil
	}

	resolution := Resolve(PreTransfer, ConflictContext{LocalPath: localPath, RelativePath: event.Path}, w.MachineName, time.Now())
	switch resolution.Outcome {
	case RetryNeeded:
		return true, NewError(KindLocalIO, event.Path, errors.New(resolution.Message))
	case Abort:
		return true, NewError(KindStateCorruption, event.Path, errors.New(resolution.Message))
	case Resolved:
		w.logger().Info("download conflict detected, local copy preserved", "path", string(event.Path), "conflict_path", resolution.ConflictPath)
		enqueueConflictCopy(w.Queue, w.Root, resolution.ConflictPath, w.logger())
	case NoConflict:
		// Local file vanished between detection and here; nothing to
		// preserve, the download can proceed.
	}
	return false, nil
}

func (w *DownloadWorker) downloadChunks(ctx context.Context, path RelativePath, meta remoteapi.FileMetadata, f *os.File, progress func(current, total int64)) error {
	for i, hash := range meta.ChunkHashes {
		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
		}

		plaintext, err := w.downloadChunkWithRetry(ctx, path, hash)
		if err != nil {
			return err
		}
		if _, err := f.Write(plaintext); err != nil {
			return NewError(KindLocalIO, path, err)
		}
		if progress != nil {
			progress(int64(i+1), int64(len(meta.ChunkHashes)))
		}
	}
	return nil
}

func (w *DownloadWorker) downloadChunkWithRetry(ctx context.Context, path RelativePath, hash string) ([]byte, error) {
	var encrypted []byte
	schedule := RetrySchedule(w.MaxRetries, w.MaxDelay)
	err := Do(ctx, schedule, func(ctx context.Context) error {
		data, getErr := w.Remote.GetChunk(ctx, hash)
		if getErr != nil {
			return retryableNetworkError(getErr)
		}
		encrypted = data
		return nil
	})
	if err != nil {
		return nil, NewError(KindNetworkTransient, path, err)
	}

	plaintext, err := chunk.DecryptChunk(encrypted, w.Key)
	if err != nil {
		return nil, NewError(KindIntegrity, path, err)
	}
	if chunk.HashBytes(plaintext) != hash {
		return nil, NewError(KindIntegrity, path, errChunkHashMismatch(hash))
	}
	return plaintext, nil
}

type chunkHashMismatchError string

func (e chunkHashMismatchError) Error() string {
	return "chunk plaintext hash mismatch after decrypt: expected " + string(e)
}

func errChunkHashMismatch(expected string) error { return chunkHashMismatchError(expected) }
