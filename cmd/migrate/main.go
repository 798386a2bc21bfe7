// Команда migrate управляет схемой PostgreSQL кассового сервиса:
// применяет и откатывает миграции, показывает текущую версию.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
)

const migrateTimeout = 30 * time.Second

type options struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	opts, err := parseOptions()
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fail("%v", err)
	}
}

func parseOptions() (options, error) {
	var opts options

	flag.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: POS_POSTGRES_DSN)")
	flag.Parse()

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(os.Getenv("POS_POSTGRES_DSN"))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("POS_POSTGRES_DSN (or -dsn) is required")
	}

	return opts, nil
}

func run(ctx context.Context, opts options) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		return reportStatus(ctx, store, "migrate up ok")
	case "down":
		steps := opts.steps
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		return reportStatus(ctx, store, "migrate down ok")
	case "status":
		return reportStatus(ctx, store, "migration status")
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
}

func reportStatus(ctx context.Context, store *postgres.Store, label string) error {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	fmt.Printf("%s: version=%d applied=%d\n", label, version, count)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
