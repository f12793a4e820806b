package persistence

import (
	"fmt"
	"path/filepath"

	"github.com/marcusd/internal/types"
)

// Open constructs the store selected by the configuration
func Open(cfg types.PersistenceConfig, dataDir string) (Store, error) {
	switch cfg.Backend {
	case types.BackendRelational:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, "marcus.db")
		}
		return NewSQLiteStore(path, cfg.PoolSize)
	case types.BackendFile:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, "store")
		}
		return NewFileStore(path)
	case types.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
