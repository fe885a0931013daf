package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
)

type options struct {
	direction string
	steps     int
	dsn       string
}

// parseOptions разбирает флаги; DSN берётся из OMS_POSTGRES_DSN, если флаг пуст.
func parseOptions(args []string, lookup func(string) (string, bool)) (options, error) {
	var opts options

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: OMS_POSTGRES_DSN)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status":
	default:
		return opts, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		if env, ok := lookup("OMS_POSTGRES_DSN"); ok {
			opts.dsn = strings.TrimSpace(env)
		}
	}
	if opts.dsn == "" {
		return opts, errors.New("OMS_POSTGRES_DSN (or -dsn) is required")
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	var changed []string
	switch opts.direction {
	case "up":
		changed, err = store.MigrateUp(ctx, opts.steps)
	case "down":
		changed, err = store.MigrateDown(ctx, opts.steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s failed: %w", opts.direction, err)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}

	for _, name := range changed {
		_, _ = fmt.Fprintf(out, "%s %s\n", opts.direction, name)
	}
	_, _ = fmt.Fprintf(out, "migration status: version=%d applied=%d pending=%d\n", state.Version, state.Applied, len(state.Pending))
	return nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
