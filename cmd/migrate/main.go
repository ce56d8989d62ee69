package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/pkg/config"
	"github.com/skillswap/timebank-api/pkg/database"
	"github.com/skillswap/timebank-api/pkg/logger"
)

// usage: migrate [up|down|steps N|version]
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	dir, err := filepath.Abs(cfg.Database.MigrationsDir)
	if err != nil {
		logr.Fatal("resolve migrations dir", zap.Error(err))
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logr.Fatal("migrations directory not found", zap.String("dir", dir))
	}

	m, err := migrate.New("file://"+dir, database.URL(cfg.Database))
	if err != nil {
		logr.Fatal("init migrate", zap.Error(err))
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	if err := apply(m, cmd, os.Args[2:]); err != nil {
		logr.Fatal("migration failed", zap.String("command", cmd), zap.Error(err))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logr.Fatal("read version", zap.Error(err))
	}
	logr.Info("migration complete", zap.String("command", cmd), zap.Uint("version", version), zap.Bool("dirty", dirty))
}

func apply(m *migrate.Migrate, cmd string, args []string) error {
	var err error
	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(args) == 0 {
			return errors.New("steps requires a count")
		}
		n, convErr := strconv.Atoi(args[0])
		if convErr != nil {
			return fmt.Errorf("invalid step count %q: %w", args[0], convErr)
		}
		err = m.Steps(n)
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
