package devserver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/syncagent/internal/devserver/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// OpenPostgres opens a pgx-backed *sql.DB and applies every pending
// goose migration in internal/devserver/migrations, mirroring the
// teacher's repomanager.PostgresRepositoryManager constructor.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("devserver: open db: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		db.Close()
		return nil, fmt.Errorf("devserver: set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("devserver: migrate: %w", err)
	}

	return db, nil
}
