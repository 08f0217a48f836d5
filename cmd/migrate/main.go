package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/af-corp/scout/internal/config"
)

func main() {
	command := flag.String("command", "up", "up, down, version or force")
	steps := flag.Int("steps", 0, "number of steps for up/down (0 = all)")
	forceVersion := flag.Int("version", -1, "version to record with -command force")
	dbURL := flag.String("db-url", "", "database URL (overrides config and DATABASE_URL)")
	configDir := flag.String("config", "configs", "configuration directory holding scout.yaml")
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dsn, err := resolveURL(*dbURL, *configDir)
	if err != nil {
		logger.Error("resolve database url", "error", err)
		os.Exit(1)
	}

	m, err := migrate.New("file://"+*migrationsPath, dsn)
	if err != nil {
		logger.Error("failed to create migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *command {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "force":
		if *forceVersion < 0 {
			logger.Error("force requires -version")
			os.Exit(2)
		}
		err = m.Force(*forceVersion)
	case "version":
	default:
		logger.Error("invalid command", "command", *command)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", "command", *command, "error", err)
		os.Exit(1)
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Error("read migration version", "error", err)
		os.Exit(1)
	}
	fmt.Printf("migration %s complete (version: %d, dirty: %v)\n", *command, v, dirty)
}

// resolveURL prefers the flag, then DATABASE_URL, then the database section
// of scout.yaml with its ${VAR:default} expansion.
func resolveURL(flagURL, configDir string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}
	cfg := config.DefaultConfig()
	if err := config.LoadFile(filepath.Join(configDir, "scout.yaml"), cfg); err != nil {
		return "", fmt.Errorf("load scout config: %w", err)
	}
	return cfg.Database.URL(), nil
}
