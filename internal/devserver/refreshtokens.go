package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/syncagent/internal/dbx"
)

// RefreshTokenRecord is a stored refresh token and the user it belongs to.
type RefreshTokenRecord struct {
	UserID  string
	Token   string
	Expires time.Time
}

// RefreshTokenStore issues, looks up, and revokes refresh tokens,
// adapted unchanged in shape from the teacher's
// refreshtokens.Repository — rotation itself (delete-old, create-new)
// is implemented one level up in TokenService, same as the teacher's
// auth flow does it.
type RefreshTokenStore interface {
	Create(ctx context.Context, userID, token string, validity time.Duration) error
	Find(ctx context.Context, token string) (RefreshTokenRecord, error)
	Delete(ctx context.Context, token string) error
}

// InMemoryRefreshTokenStore is a RefreshTokenStore backed by an
// in-process map.
type InMemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]RefreshTokenRecord
}

// NewInMemoryRefreshTokenStore constructs an empty store.
func NewInMemoryRefreshTokenStore() *InMemoryRefreshTokenStore {
	return &InMemoryRefreshTokenStore{tokens: make(map[string]RefreshTokenRecord)}
}

func (s *InMemoryRefreshTokenStore) Create(ctx context.Context, userID, token string, validity time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = RefreshTokenRecord{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (s *InMemoryRefreshTokenStore) Find(ctx context.Context, token string) (RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[token]
	if !ok {
		return RefreshTokenRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryRefreshTokenStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

// PostgresRefreshTokenStore implements RefreshTokenStore over a
// dbx.DBTX, adapted from the teacher's refreshtokens.PostgresRepository
// (same schema and queries; only the package-local error sentinel and
// model type changed).
type PostgresRefreshTokenStore struct {
	db dbx.DBTX
}

// NewPostgresRefreshTokenStore constructs a store bound to the given DBTX.
func NewPostgresRefreshTokenStore(db dbx.DBTX) *PostgresRefreshTokenStore {
	return &PostgresRefreshTokenStore{db: db}
}

func (s *PostgresRefreshTokenStore) Create(ctx context.Context, userID, token string, validity time.Duration) error {
	query := `INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, userID, token, time.Now().Add(validity)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresRefreshTokenStore) Find(ctx context.Context, token string) (RefreshTokenRecord, error) {
	query := `SELECT user_id, expires_at FROM refresh_tokens WHERE token = $1`
	rec := RefreshTokenRecord{Token: token}
	if err := s.db.QueryRowContext(ctx, query, token).Scan(&rec.UserID, &rec.Expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshTokenRecord{}, ErrNotFound
		}
		return RefreshTokenRecord{}, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (s *PostgresRefreshTokenStore) Delete(ctx context.Context, token string) error {
	query := `DELETE FROM refresh_tokens WHERE token = $1`
	if _, err := s.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
