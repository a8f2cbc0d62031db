package persistence

import (
	"fmt"
	"path/filepath"

	"github.com/neogan74/certdesk/internal/logger"
)

// NewEngine creates a persistence engine based on configuration
func NewEngine(cfg Config, log logger.Logger) (Engine, error) {
	switch cfg.Type {
	case "memory":
		log.Info("Using in-memory audit persistence")
		return NewMemoryEngine(), nil
	case "", "file":
		log.Info("Using file audit persistence",
			logger.String("dir", cfg.DataDir),
			logger.String("prefix", cfg.FilePrefix))
		return NewFileEngine(cfg.DataDir, cfg.FilePrefix, cfg.SyncWrites, log)
	case "badger":
		dir := filepath.Join(cfg.DataDir, "badger")
		log.Info("Using BadgerDB audit persistence",
			logger.String("data_dir", dir),
			logger.Bool("sync_writes", cfg.SyncWrites))
		return NewBadgerEngine(dir, cfg.SyncWrites, log)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Type)
	}
}
