package snapshot

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "12.snap.zst")
	in := SnapshotV1{
		Header:             Header{Version: Version, WorldID: "w", Tick: 12, RunID: "run"},
		TickRate:           5,
		SnapshotEveryTicks: 100,
		Lanes: []LaneV1{
			{ID: "A", Length: 256, Speed: 8, Out: "B", Exit: "HOLD", Items: []SlotV1{{Pos: 0, ItemID: "I1"}, {Pos: 64, ItemID: "I2", Kind: "ore"}}},
			{ID: "B", Length: 128, Speed: 16, Exit: "CONSUME"},
		},
		Belts:    []BeltV1{{ID: "b", Pos: [2]int{-3, 4}, Dir: "W", Left: "A", Right: "B"}},
		Counters: CountersV1{NextItem: 42},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header != in.Header || out.Counters != in.Counters || out.TickRate != 5 {
		t.Fatalf("header/counters mismatch: %+v", out)
	}
	if out.ItemCount() != 2 || out.Lanes[0].Items[1].Kind != "ore" || out.Lanes[1].Exit != "CONSUME" {
		t.Fatalf("lanes = %+v", out.Lanes)
	}
	if out.Belts[0].Pos != [2]int{-3, 4} {
		t.Fatalf("belts = %+v", out.Belts)
	}
}

func TestReadSnapshot_HeaderLineIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: Version, WorldID: "w", Tick: 3}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadString('\n')
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if want := `{"version":1,"world_id":"w","tick":3}` + "\n"; line != want {
		t.Fatalf("header line = %q", line)
	}
}

func TestReadSnapshot_RejectsOtherVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 2}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestLatest_PicksHighestTick(t *testing.T) {
	worldDir := t.TempDir()
	if got := Latest(worldDir); got != "" {
		t.Fatalf("empty dir latest = %q", got)
	}
	for _, tick := range []uint64{9, 120, 33} {
		if err := WriteSnapshot(Path(worldDir, tick), SnapshotV1{Header: Header{Version: Version, Tick: tick}}); err != nil {
			t.Fatalf("write %d: %v", tick, err)
		}
	}
	if err := os.WriteFile(filepath.Join(Dir(worldDir), "notes.snap.zst"), nil, 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if got, want := Latest(worldDir), Path(worldDir, 120); got != want {
		t.Fatalf("latest = %q, want %q", got, want)
	}
}
