package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelwatch.ai/internal/persistence/indexdb"
)

// openIndex opens the sqlite index unless it is disabled by flag or by
// VW_INDEX_BACKEND=none.
func openIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VW_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "tracker.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported VW_INDEX_BACKEND: %s", backend)
	}
}
