// One-shot schema migrator. Applies every *.up.sql under MIGRATIONS_DIR
// in name order, recording each in schema_migrations, so running it on
// every deploy is a no-op once the schema is current.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// migratorLockKey is the session advisory lock held while migrating, so
// two deploys rolling out at once cannot interleave DDL.
const migratorLockKey = 0x736d736d // "smsm"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "/migrations"
	}

	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Migration files hold multiple statements per file.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	cfg.RuntimeParams["application_name"] = "smsrelay-migrator"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	// A second migrator instance blocks here until the first is done.
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, int64(migratorLockKey)); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	pending, err := pendingMigrations(ctx, conn, dir)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Println("schema is up to date")
		return nil
	}

	for _, name := range pending {
		start := time.Now()
		if err := apply(ctx, conn, dir, name); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		log.Printf("%s applied in %s", name, time.Since(start).Round(time.Millisecond))
	}

	log.Printf("schema updated, %d migration(s) applied", len(pending))
	return nil
}

// pendingMigrations returns the .up.sql files in dir that are not yet in
// the ledger, sorted by name.
func pendingMigrations(ctx context.Context, conn *pgx.Conn, dir string) ([]string, error) {
	rows, err := conn.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var pending []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		if applied[name] {
			continue
		}
		pending = append(pending, name)
	}
	sort.Strings(pending)
	return pending, nil
}

// apply runs one migration file and its ledger insert in a single
// transaction, so a failed migration leaves no partial ledger state.
func apply(ctx context.Context, conn *pgx.Conn, dir, name string) error {
	contents, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("record in ledger: %w", err)
	}

	return tx.Commit(ctx)
}
