// Package archive keeps long-lived copies of selected snapshots outside the
// rolling snapshots directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"beltline.ai/internal/persistence/snapshot"
)

type CheckpointMeta struct {
	Checkpoint uint64 `json:"checkpoint"`
	WorldID    string `json:"world_id"`
	RunID      string `json:"run_id,omitempty"`
	Tick       uint64 `json:"tick"`
	Lanes      int    `json:"lanes"`
	Items      int    `json:"items"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
}

func Dir(worldDir string) string { return filepath.Join(worldDir, "archives") }

// ArchiveCheckpoint copies a snapshot into `worldDir/archives/checkpoint_<NNN>/`
// when its tick is a positive multiple of every. It returns the checkpoint
// number and archived path when it archived.
func ArchiveCheckpoint(worldDir, snapshotPath string, snap snapshot.SnapshotV1, every uint64) (n uint64, archivedPath string, archived bool, err error) {
	if every == 0 || snap.Header.Tick == 0 || snap.Header.Tick%every != 0 {
		return 0, "", false, nil
	}
	n = snap.Header.Tick / every

	archiveDir := filepath.Join(Dir(worldDir), fmt.Sprintf("checkpoint_%03d", n))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := CheckpointMeta{
		Checkpoint: n,
		WorldID:    snap.Header.WorldID,
		RunID:      snap.Header.RunID,
		Tick:       snap.Header.Tick,
		Lanes:      len(snap.Lanes),
		Items:      snap.ItemCount(),
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return n, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
