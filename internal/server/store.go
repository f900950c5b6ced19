package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/config"
	"github.com/scrypster/storyforge/internal/storage"
	"github.com/scrypster/storyforge/internal/storage/postgres"
	"github.com/scrypster/storyforge/internal/storage/sqlite"
)

// sqliteFile is the database file name inside the data directory.
const sqliteFile = "storyforge.db"

// SQLitePath returns the database file used by the sqlite engine, or ""
// for other engines.
func SQLitePath(cfg config.StorageConfig) string {
	switch strings.ToLower(cfg.StorageEngine) {
	case "", "sqlite":
		return filepath.Join(cfg.DataPath, sqliteFile)
	}
	return ""
}

// OpenStore opens the configured storage engine. The sqlite data directory
// is created when missing.
func OpenStore(cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch strings.ToLower(cfg.StorageEngine) {
	case "", "sqlite":
		if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataPath, err)
		}
		s, err := sqlite.NewStore(SQLitePath(cfg), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires STORYFORGE_POSTGRES_DSN")
		}
		s, err := postgres.NewStore(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.StorageEngine)
	}
}
