// Command migrate applies the SQL migrations in ./migrations with goose.
//
//	go run ./cmd/migrate up        apply pending migrations
//	go run ./cmd/migrate down      roll back one migration
//	go run ./cmd/migrate status    list applied and pending migrations
//	go run ./cmd/migrate version   print the current schema version
//
// DATABASE_URL selects the target database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|down|status|version|redo|up-to N|down-to N>")
		os.Exit(1)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	cmd, rest := os.Args[1], os.Args[2:]
	if err := goose.RunContext(context.Background(), cmd, db, "migrations", rest...); err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
}
