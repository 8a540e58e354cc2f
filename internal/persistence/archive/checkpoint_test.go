package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"beltline.ai/internal/persistence/snapshot"
)

func TestArchiveCheckpoint_CopiesMatchingSnapshot(t *testing.T) {
	worldDir := filepath.Join(t.TempDir(), "worlds", "w1")
	src := snapshot.Path(worldDir, 6000)
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: 6000, RunID: "r"},
		Lanes:  []snapshot.LaneV1{{ID: "a.L", Items: []snapshot.SlotV1{{Pos: 3, ItemID: "x"}}}},
	}
	n, dst, ok, err := ArchiveCheckpoint(worldDir, src, snap, 3000)
	if err != nil || !ok || n != 2 {
		t.Fatalf("archive: n=%d ok=%v err=%v", n, ok, err)
	}
	if dst != filepath.Join(worldDir, "archives", "checkpoint_002", "6000.snap.zst") {
		t.Fatalf("dst = %s", dst)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != string(want) {
		t.Fatalf("archived content = %q err=%v", got, err)
	}
	raw, err := os.ReadFile(filepath.Join(filepath.Dir(dst), "meta.json"))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	var meta CheckpointMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("meta json: %v", err)
	}
	if meta.Checkpoint != 2 || meta.Items != 1 || meta.Snapshot != "6000.snap.zst" || meta.RunID != "r" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestArchiveCheckpoint_SkipsOtherTicks(t *testing.T) {
	snap := snapshot.SnapshotV1{Header: snapshot.Header{Tick: 4500}}
	for _, every := range []uint64{0, 3000} {
		if _, _, ok, err := ArchiveCheckpoint(t.TempDir(), "unused", snap, every); ok || err != nil {
			t.Fatalf("every=%d archived=%v err=%v", every, ok, err)
		}
	}
	if _, _, ok, _ := ArchiveCheckpoint(t.TempDir(), "unused", snapshot.SnapshotV1{}, 3000); ok {
		t.Fatalf("tick 0 archived")
	}
}
