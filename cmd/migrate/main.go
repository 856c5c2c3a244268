package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/infra/persistence/migrations"
)

const (
	defaultTimeout = 30 * time.Second
	dsnEnv         = "ADSLOT_DATABASE_URL"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var (
		dsn        = fs.String("database", "", "PostgreSQL DSN; defaults to $"+dsnEnv+" or the identity dsn of -config")
		configPath = fs.String("config", "", "slotd config whose identity settings supply the DSN and migrations path")
		dir        = fs.String("path", "", "Directory containing SQL migrations, or \"embedded\" for the bundled set")
		timeout    = fs.Duration("timeout", defaultTimeout, "Maximum time to wait for database connectivity")
		quiet      = fs.Bool("quiet", false, "Suppress informational logs")
	)
	if err := fs.Parse(argv); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target, source, err := resolveTarget(ctx, *dsn, *dir, *configPath)
	if err != nil {
		return err
	}

	args := fs.Args()
	if len(args) == 0 {
		return errors.New("command required (up|down)")
	}

	var logger *log.Logger
	if !*quiet {
		logger = log.New(os.Stdout, "adslot-migrate ", log.LstdFlags)
	}

	switch args[0] {
	case "up":
		return migrations.Apply(ctx, target, source, logger)
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid down steps %q", args[1])
			}
			steps = n
		}
		return migrations.Rollback(ctx, target, source, steps, logger)
	default:
		return fmt.Errorf("unknown command %q (expected up or down)", args[0])
	}
}

// resolveTarget picks the DSN and migration source. Flags win over the environment, which wins
// over the slotd config file.
func resolveTarget(ctx context.Context, dsn, dir, configPath string) (string, string, error) {
	dsn = strings.TrimSpace(dsn)
	dir = strings.TrimSpace(dir)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv(dsnEnv))
	}
	if configPath != "" && (dsn == "" || dir == "") {
		cfg, err := config.Load(ctx, configPath)
		if err != nil {
			return "", "", fmt.Errorf("load config: %w", err)
		}
		if dsn == "" {
			dsn = cfg.Identity.DSN
		}
		if dir == "" {
			dir = cfg.Identity.MigrationsPath
		}
	}
	if dsn == "" {
		return "", "", fmt.Errorf("database dsn required (-database, $%s or -config)", dsnEnv)
	}
	if dir == "" {
		dir = migrations.Embedded
	}
	return dsn, dir, nil
}
