// Package localdb opens the on-device sqlite database, applies the embedded
// goose migrations, and hands out the repositories bound to it.
package localdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/papersync/papersync/internal/migrations"
	"github.com/papersync/papersync/internal/repositories/attachments"
	"github.com/papersync/papersync/internal/repositories/documents"
)

// Repositories bundles the local-store access layers sharing one database.
type Repositories struct {
	Documents   documents.Repository
	Attachments attachments.Repository
	DB          *sql.DB
}

// RunMigrations applies the embedded migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Open opens (creating if needed) the database at path, migrates it, and
// returns the repository bundle. The caller owns closing Repositories.DB.
func Open(ctx context.Context, path string) (*Repositories, error) {
	// The pragmas ride in the DSN so every pooled connection gets them; an
	// ExecContext pragma would only reach one connection. Row-level cascade
	// depends on foreign_keys.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Repositories{
		Documents:   documents.NewSQLiteRepository(db),
		Attachments: attachments.NewSQLiteRepository(db),
		DB:          db,
	}, nil
}
