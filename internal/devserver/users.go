package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/syncagent/internal/dbx"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the account directory backing devserver's auth
// endpoints, generalized from the teacher's users.Repository (trimmed
// of the vault-specific Salt/MasterKeyVerifier shape down to a plain
// bcrypt password hash, since devserver has no client-side zero-
// knowledge verifier protocol of its own to support).
type UserStore interface {
	Create(ctx context.Context, username, password string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
}

// InMemoryUserStore is a UserStore backed by an in-process map.
type InMemoryUserStore struct {
	mu    sync.Mutex
	byUID map[string]User
}

// NewInMemoryUserStore constructs an empty store.
func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{byUID: make(map[string]User)}
}

func (s *InMemoryUserStore) Create(ctx context.Context, username, password string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.byUID {
		if u.Username == username {
			return User{}, fmt.Errorf("devserver: username %q already registered", username)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	u := User{ID: uuid.NewString(), Username: username, PasswordHash: hash}
	s.byUID[u.ID] = u
	return u, nil
}

func (s *InMemoryUserStore) GetByUsername(ctx context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.byUID {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

// PostgresUserStore implements UserStore over a dbx.DBTX, adapted from
// the teacher's users.PostgresRepository.
type PostgresUserStore struct {
	db dbx.DBTX
}

// NewPostgresUserStore constructs a store bound to the given DBTX.
func NewPostgresUserStore(db dbx.DBTX) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

func (s *PostgresUserStore) Create(ctx context.Context, username, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	u := User{ID: uuid.NewString(), Username: username, PasswordHash: hash}
	query := `INSERT INTO devserver_users (id, username, password_hash) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.PasswordHash); err != nil {
		return User{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) GetByUsername(ctx context.Context, username string) (User, error) {
	query := `SELECT id, username, password_hash, created_at FROM devserver_users WHERE username = $1`
	var u User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// CheckPassword reports whether password matches u's stored hash.
func CheckPassword(u User, password string) bool {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}
