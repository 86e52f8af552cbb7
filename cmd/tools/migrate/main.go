package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	var (
		dir   = flag.String("dir", "migrations", "directory holding the migration files")
		down  = flag.Int("down", 0, "roll back this many migrations instead of migrating up")
		force = flag.Int("force", -1, "force the schema version without running migrations")
	)
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	m, err := migrate.New("file://"+*dir, pgxURL(dbURL))
	if err != nil {
		log.Fatalf("open migrator: %v", err)
	}
	defer m.Close()

	switch {
	case *force >= 0:
		err = m.Force(*force)
	case *down > 0:
		err = m.Steps(-*down)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate: %v", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatalf("read version: %v", err)
	}
	log.Printf("schema version %d (dirty=%v)", version, dirty)
}

// pgxURL rewrites the conventional postgres scheme to the one the migrate
// pgx/v5 driver registers.
func pgxURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "postgres://"):
		return "pgx5://" + strings.TrimPrefix(raw, "postgres://")
	case strings.HasPrefix(raw, "postgresql://"):
		return "pgx5://" + strings.TrimPrefix(raw, "postgresql://")
	default:
		return raw
	}
}
