package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// upMigrations lists the embedded *.up.sql files in version order.
func upMigrations(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres.Migrate: ensure schema_migrations: %w", err)
	}

	files, err := upMigrations(migrationFiles)
	if err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}

	for _, version := range files {
		var applied bool
		err = pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("postgres.Migrate: check %s: %w", version, err)
		}
		if applied {
			continue
		}

		contents, err := migrationFiles.ReadFile("migrations/" + version)
		if err != nil {
			return fmt.Errorf("postgres.Migrate: read %s: %w", version, err)
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, execErr := tx.Exec(ctx, string(contents)); execErr != nil {
				return fmt.Errorf("execute: %w", execErr)
			}
			if _, execErr := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); execErr != nil {
				return fmt.Errorf("record: %w", execErr)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("postgres.Migrate: %s: %w", version, err)
		}
		log.Info().Str("version", version).Msg("applied migration")
	}

	return nil
}
