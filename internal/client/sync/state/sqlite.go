package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/syncagent/internal/dbx"

	clientsync "github.com/dmitrijs2005/syncagent/internal/client/sync"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store over a modernc.org/sqlite database, using
// the same dbx.DBTX/dbx.WithTx helpers the teacher's repositories use for
// atomic writes.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and applies
// pending goose migrations. Per §4.6's corruption-handling rule: if
// PRAGMA integrity_check fails, the file is renamed aside and a fresh
// database is created in its place, so the next scan performs a full
// re-sync from the server instead of the agent refusing to start.
func Open(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := checkIntegrity(path, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no internal connection pool safety for writers

	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: set dialect: %w", err)
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// checkIntegrity runs PRAGMA integrity_check against an existing
// database file. If the file is absent, there is nothing to check. If
// the file is present but fails the check (or can't even be opened), it
// is moved aside so Open can start fresh.
func checkIntegrity(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return quarantine(path, logger, err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return quarantine(path, logger, err)
	}
	if result != "ok" {
		return quarantine(path, logger, fmt.Errorf("integrity_check reported: %s", result))
	}
	return nil
}

func quarantine(path string, logger *slog.Logger, cause error) error {
	quarantined := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	logger.Warn("local state store failed integrity check, quarantining and starting fresh",
		"path", path, "quarantined_as", quarantined, "cause", cause)
	if err := os.Rename(path, quarantined); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: quarantine corrupt store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetSyncedFile(ctx context.Context, path clientsync.RelativePath) (clientsync.SyncedFileRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, local_mtime, local_size, server_version, chunk_hashes, synced_at
		FROM synced_files WHERE path = ?`, string(path))

	var rec clientsync.SyncedFileRecord
	var p, chunks, syncedAt string
	if err := row.Scan(&p, &rec.LocalMtime, &rec.LocalSize, &rec.ServerVersion, &chunks, &syncedAt); err != nil {
		if err == sql.ErrNoRows {
			return clientsync.SyncedFileRecord{}, false, nil
		}
		return clientsync.SyncedFileRecord{}, false, fmt.Errorf("state: get synced file %s: %w", path, err)
	}

	rec.Path = clientsync.RelativePath(p)
	if err := json.Unmarshal([]byte(chunks), &rec.ChunkHashes); err != nil {
		return clientsync.SyncedFileRecord{}, false, fmt.Errorf("state: decode chunk hashes for %s: %w", path, err)
	}
	t, err := time.Parse(time.RFC3339Nano, syncedAt)
	if err != nil {
		return clientsync.SyncedFileRecord{}, false, fmt.Errorf("state: decode synced_at for %s: %w", path, err)
	}
	rec.SyncedAt = t
	return rec, true, nil
}

func (s *SQLiteStore) PutSyncedFile(ctx context.Context, rec clientsync.SyncedFileRecord) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		chunks, err := json.Marshal(rec.ChunkHashes)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO synced_files (path, local_mtime, local_size, server_version, chunk_hashes, synced_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				local_mtime = excluded.local_mtime,
				local_size = excluded.local_size,
				server_version = excluded.server_version,
				chunk_hashes = excluded.chunk_hashes,
				synced_at = excluded.synced_at
		`, string(rec.Path), rec.LocalMtime, rec.LocalSize, rec.ServerVersion, string(chunks),
			rec.SyncedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("state: put synced file %s: %w", rec.Path, err)
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteSyncedFile(ctx context.Context, path clientsync.RelativePath) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM synced_files WHERE path = ?`, string(path))
	if err != nil {
		return fmt.Errorf("state: delete synced file %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStore) ListSyncedFiles(ctx context.Context) ([]clientsync.SyncedFileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, local_mtime, local_size, server_version, chunk_hashes, synced_at
		FROM synced_files`)
	if err != nil {
		return nil, fmt.Errorf("state: list synced files: %w", err)
	}
	defer rows.Close()

	var out []clientsync.SyncedFileRecord
	for rows.Next() {
		var rec clientsync.SyncedFileRecord
		var p, chunks, syncedAt string
		if err := rows.Scan(&p, &rec.LocalMtime, &rec.LocalSize, &rec.ServerVersion, &chunks, &syncedAt); err != nil {
			return nil, fmt.Errorf("state: scan synced file row: %w", err)
		}
		rec.Path = clientsync.RelativePath(p)
		if err := json.Unmarshal([]byte(chunks), &rec.ChunkHashes); err != nil {
			return nil, fmt.Errorf("state: decode chunk hashes for %s: %w", p, err)
		}
		t, err := time.Parse(time.RFC3339Nano, syncedAt)
		if err != nil {
			return nil, fmt.Errorf("state: decode synced_at for %s: %w", p, err)
		}
		rec.SyncedAt = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetUploadProgress(ctx context.Context, path clientsync.RelativePath) (clientsync.UploadProgress, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, expected_chunk_hashes, uploaded_chunk_hashes, started_at
		FROM upload_progress WHERE path = ?`, string(path))

	var p, expected, uploaded, startedAt string
	if err := row.Scan(&p, &expected, &uploaded, &startedAt); err != nil {
		if err == sql.ErrNoRows {
			return clientsync.UploadProgress{}, false, nil
		}
		return clientsync.UploadProgress{}, false, fmt.Errorf("state: get upload progress %s: %w", path, err)
	}

	var prog clientsync.UploadProgress
	prog.Path = clientsync.RelativePath(p)
	if err := json.Unmarshal([]byte(expected), &prog.ExpectedChunkHashes); err != nil {
		return clientsync.UploadProgress{}, false, err
	}
	if err := json.Unmarshal([]byte(uploaded), &prog.UploadedChunkHashes); err != nil {
		return clientsync.UploadProgress{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return clientsync.UploadProgress{}, false, err
	}
	prog.StartedAt = t
	return prog, true, nil
}

func (s *SQLiteStore) PutUploadProgress(ctx context.Context, p clientsync.UploadProgress) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		expected, err := json.Marshal(p.ExpectedChunkHashes)
		if err != nil {
			return err
		}
		uploaded, err := json.Marshal(p.UploadedChunkHashes)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO upload_progress (path, expected_chunk_hashes, uploaded_chunk_hashes, started_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				expected_chunk_hashes = excluded.expected_chunk_hashes,
				uploaded_chunk_hashes = excluded.uploaded_chunk_hashes,
				started_at = excluded.started_at
		`, string(p.Path), string(expected), string(uploaded), p.StartedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("state: put upload progress %s: %w", p.Path, err)
		}
		return nil
	})
}

func (s *SQLiteStore) ClearUploadProgress(ctx context.Context, path clientsync.RelativePath) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM upload_progress WHERE path = ?`, string(path))
	if err != nil {
		return fmt.Errorf("state: clear upload progress %s: %w", path, err)
	}
	return nil
}

const changeCursorKey = "change_cursor"

func (s *SQLiteStore) GetChangeCursor(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM agent_metadata WHERE key = ?`, changeCursorKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("state: get change cursor: %w", err)
	}
	return strings.TrimSpace(value), nil
}

func (s *SQLiteStore) SetChangeCursor(ctx context.Context, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, changeCursorKey, cursor)
	if err != nil {
		return fmt.Errorf("state: set change cursor: %w", err)
	}
	return nil
}
