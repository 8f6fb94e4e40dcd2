package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()
	if flag.NArg() > 0 {
		*direction = flag.Arg(0)
	}
	if *direction != "up" && *direction != "down" {
		log.Fatalf("invalid direction %q (expected up or down)", *direction)
	}

	databaseURL := os.Getenv("POSTGRES_URL")
	if databaseURL == "" {
		log.Fatal("POSTGRES_URL is required")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		log.Fatalf("ensure schema_migrations table: %v", err)
	}

	files, err := filepath.Glob(filepath.Join("deploy", "sql", "migrations", "*."+*direction+".sql"))
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	sort.Strings(files)
	if *direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}

	var applied int
	for _, file := range files {
		version := strings.SplitN(filepath.Base(file), ".", 2)[0]
		if err := runMigration(ctx, conn, *direction, version, file); err != nil {
			log.Fatalf("apply migration %s %s: %v", version, *direction, err)
		}
		applied++
	}
	log.Printf("completed %d %s migration(s)", applied, *direction)
}

func runMigration(ctx context.Context, conn *pgx.Conn, direction, version, file string) error {
	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists); err != nil {
		return err
	}
	if (direction == "up" && exists) || (direction == "down" && !exists) {
		return nil
	}

	sqlBytes, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		return err
	}
	var bookkeeping string
	if direction == "up" {
		bookkeeping = `INSERT INTO schema_migrations (version) VALUES ($1)`
	} else {
		bookkeeping = `DELETE FROM schema_migrations WHERE version = $1`
	}
	if _, err := tx.Exec(ctx, bookkeeping, version); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	fmt.Printf("applied %s %s\n", version, direction)
	return nil
}
