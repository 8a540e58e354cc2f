package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"beltline.ai/internal/persistence/indexdb"
	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	Close() error
	UpsertConfig(name string, v any) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordSnapshotState(snap snapshot.SnapshotV1)
	Stats() indexdb.Stats
	Transfers(ctx context.Context, lane string, limit int) ([]indexdb.TransferRow, error)
	ItemTrail(ctx context.Context, itemID string) ([]indexdb.TransferRow, error)
}

func indexPath(worldDir string) string {
	return filepath.Join(worldDir, "index", "world.sqlite")
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BELT_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexPath(worldDir))
	default:
		return nil, fmt.Errorf("unsupported BELT_INDEX_BACKEND: %s", backend)
	}
}
