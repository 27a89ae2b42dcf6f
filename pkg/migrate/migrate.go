package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/pressly/goose/v3"

	"github.com/whatsub/notifications/pkg/logger"
)

const (
	// DefaultDir is where new migrations are scaffolded.
	DefaultDir = "pkg/migrate/migrations"
	// Dialect is the only goose target; sqlite deployments use AutoMigrate.
	Dialect = "postgres"
)

// Command is a schema operation run against the database.
type Command string

const (
	CommandUp     Command = "up"
	CommandDown   Command = "down"
	CommandStatus Command = "status"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migrations to run. An empty dir selects the files
// compiled into the binary.
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(embedded, "migrations")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations dir %q is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// Run validates the migrations in fsys and applies cmd. Each applied step or
// status row is logged.
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, cmd Command, logg *logger.Logger) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := ValidateFS(fsys); err != nil {
		return fmt.Errorf("invalid migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	switch cmd {
	case CommandUp:
		results, err := provider.Up(ctx)
		for _, res := range results {
			logResult(ctx, logg, res)
		}
		if err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		if len(results) == 0 {
			logInfo(ctx, logg, "notifications schema already up to date")
		}
	case CommandDown:
		res, err := provider.Down(ctx)
		if res != nil {
			logResult(ctx, logg, res)
		}
		if err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
	case CommandStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		for _, st := range statuses {
			fields := map[string]any{"migration": path.Base(st.Source.Path), "state": string(st.State)}
			if !st.AppliedAt.IsZero() {
				fields["applied_at"] = st.AppliedAt
			}
			if logg != nil {
				logg.Info(logg.WithFields(ctx, fields), "migration status")
			}
		}
	default:
		return fmt.Errorf("unknown migrate command %q", cmd)
	}
	return nil
}

func logResult(ctx context.Context, logg *logger.Logger, res *goose.MigrationResult) {
	if logg == nil || res.Source == nil {
		return
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"migration":   path.Base(res.Source.Path),
		"direction":   res.Direction,
		"duration_ms": res.Duration.Milliseconds(),
		"empty":       res.Empty,
	}), "migration applied")
}

func logInfo(ctx context.Context, logg *logger.Logger, msg string) {
	if logg != nil {
		logg.Info(ctx, msg)
	}
}
