package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/syncagent/internal/dbx"
)

// PostgresFileStore implements FileStore over a dbx.DBTX, adapted from
// the teacher's files.PostgresRepository: CreateOrUpdate's optimistic
// concurrency check and SelectUpdated's per-user version cursor carry
// over unchanged in spirit, generalized from the entry_id/storage_key
// shape to path/content-hash/chunk-list, and the per-user monotonic
// version counter is adapted from the teacher's
// users.PostgresRepository.IncrementCurrentVersion (UPDATE ... RETURNING).
type PostgresFileStore struct {
	db dbx.DBTX
}

// NewPostgresFileStore constructs a store bound to the given DBTX.
func NewPostgresFileStore(db dbx.DBTX) *PostgresFileStore {
	return &PostgresFileStore{db: db}
}

func (s *PostgresFileStore) incrementVersion(ctx context.Context, tx dbx.DBTX, userID string) (int64, error) {
	query := `
		INSERT INTO devserver_user_versions (user_id, current_version)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET current_version = devserver_user_versions.current_version + 1
		RETURNING current_version
	`
	var v int64
	if err := tx.QueryRowContext(ctx, query, userID).Scan(&v); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (s *PostgresFileStore) CreateOrUpdate(ctx context.Context, rec FileRecord, expectedVersion *int64) (FileRecord, error) {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return FileRecord{}, fmt.Errorf("devserver: CreateOrUpdate requires a *sql.DB-backed store")
	}

	var out FileRecord
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var currentVersion int64
		var deleted bool
		lookupErr := tx.QueryRowContext(ctx, `
			SELECT version, deleted FROM files WHERE user_id = $1 AND path = $2
		`, rec.UserID, rec.Path).Scan(&currentVersion, &deleted)

		exists := lookupErr == nil
		if lookupErr != nil && !errors.Is(lookupErr, sql.ErrNoRows) {
			return fmt.Errorf("db error: %w", lookupErr)
		}

		switch {
		case expectedVersion == nil && exists && !deleted:
			return ErrVersionConflict
		case expectedVersion != nil && (!exists || deleted):
			// See InMemoryFileStore.CreateOrUpdate: a soft-deleted row is
			// "not found" for update purposes, not a version conflict, so
			// S6-style update-vs-delete races retry as a fresh create
			// instead of surfacing a spurious 409.
			return ErrNotFound
		case expectedVersion != nil && currentVersion != *expectedVersion:
			return ErrVersionConflict
		}

		version, err := s.incrementVersion(ctx, tx, rec.UserID)
		if err != nil {
			return err
		}
		rec.Version = version

		chunks, err := json.Marshal(rec.ChunkHashes)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO files (user_id, path, version, size, mtime, content_hash, chunk_hashes, deleted, deleted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, false, NULL)
			ON CONFLICT (user_id, path) DO UPDATE SET
				version = EXCLUDED.version,
				size = EXCLUDED.size,
				mtime = EXCLUDED.mtime,
				content_hash = EXCLUDED.content_hash,
				chunk_hashes = EXCLUDED.chunk_hashes,
				deleted = false,
				deleted_at = NULL
		`, rec.UserID, rec.Path, rec.Version, rec.Size, rec.Mtime, rec.ContentHash, string(chunks))
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		out = rec
		return nil
	})
	if err != nil {
		return FileRecord{}, err
	}
	return out, nil
}

func (s *PostgresFileStore) Get(ctx context.Context, userID, path string) (FileRecord, error) {
	query := `
		SELECT user_id, path, version, size, mtime, content_hash, chunk_hashes, deleted
		FROM files WHERE user_id = $1 AND path = $2 AND deleted = false
	`
	var rec FileRecord
	var chunks string
	err := s.db.QueryRowContext(ctx, query, userID, path).Scan(
		&rec.UserID, &rec.Path, &rec.Version, &rec.Size, &rec.Mtime, &rec.ContentHash, &chunks, &rec.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FileRecord{}, ErrNotFound
		}
		return FileRecord{}, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal([]byte(chunks), &rec.ChunkHashes); err != nil {
		return FileRecord{}, fmt.Errorf("devserver: decode chunk hashes for %s: %w", path, err)
	}
	return rec, nil
}

func (s *PostgresFileStore) List(ctx context.Context, userID, prefix string) ([]FileRecord, error) {
	query := `
		SELECT user_id, path, version, size, mtime, content_hash, chunk_hashes, deleted
		FROM files WHERE user_id = $1 AND deleted = false AND path LIKE $2
		ORDER BY path
	`
	rows, err := s.db.QueryContext(ctx, query, userID, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var rec FileRecord
		var chunks string
		if err := rows.Scan(&rec.UserID, &rec.Path, &rec.Version, &rec.Size, &rec.Mtime, &rec.ContentHash, &chunks, &rec.Deleted); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(chunks), &rec.ChunkHashes); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer("%", "\\%", "_", "\\_").Replace(prefix)
	return escaped + "%"
}

func (s *PostgresFileStore) SoftDelete(ctx context.Context, userID, path string) (Change, error) {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return Change{}, fmt.Errorf("devserver: SoftDelete requires a *sql.DB-backed store")
	}

	var change Change
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var exists bool
		err := tx.QueryRowContext(ctx, `SELECT true FROM files WHERE user_id = $1 AND path = $2 AND deleted = false`, userID, path).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		version, err := s.incrementVersion(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := time.Now()
		_, err = tx.ExecContext(ctx, `
			UPDATE files SET deleted = true, deleted_at = $3, version = $4
			WHERE user_id = $1 AND path = $2
		`, userID, path, now, version)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		change = Change{Type: ChangeDeleted, Path: path, Version: &version, DeletedAt: &now}
		return nil
	})
	if err != nil {
		return Change{}, err
	}
	return change, nil
}

func (s *PostgresFileStore) ChangesSince(ctx context.Context, userID, cursor string) ([]Change, string, error) {
	min, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT path, version, deleted, deleted_at
		FROM files WHERE user_id = $1 AND version > $2
		ORDER BY version
	`
	rows, err := s.db.QueryContext(ctx, query, userID, min)
	if err != nil {
		return nil, "", fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var changes []Change
	cur := min
	for rows.Next() {
		var path string
		var version int64
		var deleted bool
		var deletedAt sql.NullTime
		if err := rows.Scan(&path, &version, &deleted, &deletedAt); err != nil {
			return nil, "", err
		}
		ct := ChangeUpdated
		if deleted {
			ct = ChangeDeleted
		}
		v := version
		c := Change{Type: ct, Path: path, Version: &v}
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}
		changes = append(changes, c)
		if version > cur {
			cur = version
		}
	}
	return changes, formatCursor(cur), rows.Err()
}
