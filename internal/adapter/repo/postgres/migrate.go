package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent so it runs on each start.
func Migrate(ctx context.Context, pool PgxPool) error {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("op=postgres.Migrate: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("op=postgres.Migrate: %w", err)
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("op=postgres.Migrate: %s: %w", name, err)
		}
		slog.Debug("migration applied", slog.String("file", name))
	}
	return nil
}
