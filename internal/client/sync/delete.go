package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/syncagent/internal/client/sync/remoteapi"
)

// DeleteWorker implements Worker for LOCAL_DELETED/REMOTE_DELETED
// events, propagating a deletion in whichever direction it was
// observed — grounded on original_source's DeleteWorker.
type DeleteWorker struct {
	Root   string
	Remote remoteapi.RemoteAPI
	Store  Store
	Logger *slog.Logger
}

func (w *DeleteWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *DeleteWorker) Execute(ctx context.Context, event SyncEvent, progress func(current, total int64)) error {
	switch event.Source {
	case SourceLocal:
		return w.propagateToServer(ctx, event.Path)
	case SourceRemote:
		return w.deleteLocally(ctx, event.Path)
	default:
		return nil
	}
}

func (w *DeleteWorker) propagateToServer(ctx context.Context, path RelativePath) error {
	w.logger().Info("propagating local deletion to server", "path", string(path))
	if err := w.Remote.DeleteFile(ctx, string(path)); err != nil {
		return NewError(KindNetworkTransient, path, err)
	}
	if err := w.Store.DeleteSyncedFile(ctx, path); err != nil {
		return NewError(KindLocalIO, path, err)
	}
	return nil
}

func (w *DeleteWorker) deleteLocally(ctx context.Context, path RelativePath) error {
	w.logger().Info("deleting local file due to remote deletion", "path", string(path))
	localPath := filepath.Join(w.Root, filepath.FromSlash(string(path)))

	info, err := os.Stat(localPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Already gone locally; nothing to do.
	case err != nil:
		return NewError(KindLocalIO, path, err)
	case info.IsDir():
		if err := os.Remove(localPath); err != nil {
			return NewError(KindLocalIO, path, err)
		}
	default:
		if err := os.Remove(localPath); err != nil {
			return NewError(KindLocalIO, path, err)
		}
	}

	if err := w.Store.DeleteSyncedFile(ctx, path); err != nil {
		return NewError(KindLocalIO, path, err)
	}
	return nil
}
