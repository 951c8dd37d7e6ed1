// Command migrate applies the embedded paygate schema.
//
// Usage:
//
//	migrate up               apply all pending migrations
//	migrate up-by-one        apply the next pending migration
//	migrate up-to <version>  apply up to and including version
//	migrate down             roll back the latest migration
//	migrate down-to <version>
//	migrate status
//	migrate version
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/paygate/internal/logging"
	"github.com/mbd888/paygate/migrations"
)

var errUsage = errors.New("usage: migrate up|up-by-one|up-to <v>|down|down-to <v>|status|version")

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, errUsage)
		os.Exit(2)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		logger.Error("failed to load migrations", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, p, os.Stdout, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("migration failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, p *goose.Provider, out io.Writer, command string, args []string) error {
	switch command {
	case "up":
		results, err := p.Up(ctx)
		report(out, results...)
		return err
	case "up-by-one":
		r, err := p.UpByOne(ctx)
		report(out, r)
		return err
	case "up-to", "down-to":
		if len(args) != 1 {
			return errUsage
		}
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		var results []*goose.MigrationResult
		if command == "up-to" {
			results, err = p.UpTo(ctx, v)
		} else {
			results, err = p.DownTo(ctx, v)
		}
		report(out, results...)
		return err
	case "down":
		r, err := p.Down(ctx)
		report(out, r)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-8s %-20s %s\n", s.State, applied, s.Source.Path)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, v)
		return nil
	default:
		return errUsage
	}
}

func report(out io.Writer, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Fprintf(out, "%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration)
	}
}
