package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/whatsub/notifications/pkg/config"
	"github.com/whatsub/notifications/pkg/db"
	"github.com/whatsub/notifications/pkg/logger"
	"github.com/whatsub/notifications/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|validate|create")
	dir := flag.String("dir", "", "migrations directory (default: migrations compiled into the binary; create uses "+migrate.DefaultDir+")")
	name := flag.String("name", "", "migration name (for create)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := logg.WithField(context.Background(), "cmd", *cmd)

	// create and validate work on files only and need no configuration.
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name, time.Now())
		if err != nil {
			fail(ctx, logg, "create migration", err)
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return
	case "validate":
		fsys, err := migrate.Source(*dir)
		if err != nil {
			fail(ctx, logg, "load migrations", err)
		}
		if err := migrate.ValidateFS(fsys); err != nil {
			fail(ctx, logg, "validate migrations", err)
		}
		logg.Info(ctx, "migrations valid")
		return
	case string(migrate.CommandUp), string(migrate.CommandDown), string(migrate.CommandStatus):
	default:
		fail(ctx, logg, "parse flags", fmt.Errorf("unknown -cmd value %q", *cmd))
	}

	cfg, err := config.Load()
	if err != nil {
		fail(ctx, logg, "load config", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	// goose migrations are postgres only; sqlite mode uses model auto-migration
	if cfg.FeatureFlags.UseSQLite {
		fail(ctx, logg, "select database", fmt.Errorf("goose migrations require postgres; unset WHATSUB_USE_SQLITE"))
	}

	fsys, err := migrate.Source(*dir)
	if err != nil {
		fail(ctx, logg, "load migrations", err)
	}

	dbClient, err := db.New(ctx, cfg.DB, false, logg)
	if err != nil {
		fail(ctx, logg, "connect database", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, "open sql database", err)
	}

	if err := migrate.Run(ctx, sqlDB, fsys, migrate.Command(*cmd), logg); err != nil {
		_ = dbClient.Close()
		fail(ctx, logg, "run migrations", err)
	}
}

func fail(ctx context.Context, logg *logger.Logger, step string, err error) {
	logg.Error(ctx, fmt.Sprintf("migrate failed: %s", step), err)
	os.Exit(1)
}
