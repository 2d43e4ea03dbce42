package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement batch; *pgxpool.Pool and pgx.Tx both satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Apply executes every embedded migration in name order. Statements are
// idempotent so Apply can run against an already migrated database.
func Apply(ctx context.Context, db Execer) error {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return fmt.Errorf("migrations: list: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrations: read %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("migrations: apply %s: %w", name, err)
		}
	}
	return nil
}
