package worldtest

import (
	"path/filepath"
	"testing"

	"beltline.ai/internal/persistence/snapshot"
	world "beltline.ai/internal/sim/world"
)

func TestSnapshotRoundTrip_ContinuesWithSameDigests(t *testing.T) {
	h := NewHarnessFromLayout(t, demoLayout, world.WorldConfig{ID: "demo"})
	next := requestStream(99, h.W.LaneIDs())
	for i := 0; i < 40; i++ {
		h.Apply(next())
	}

	tick, snap := h.Snapshot()
	path := filepath.Join(t.TempDir(), "snap.zst")
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	read, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if read.Header.Tick != tick {
		t.Fatalf("header tick = %d, want %d", read.Header.Tick, tick)
	}

	specs, belts, err := world.SpecsFromSnapshot(read)
	if err != nil {
		t.Fatalf("specs: %v", err)
	}
	w2, err := world.New(world.WorldConfig{ID: "demo"}, specs, belts)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	if err := w2.ImportSnapshot(read); err != nil {
		t.Fatalf("import: %v", err)
	}
	h2 := NewHarnessWithWorld(t, w2)
	if h2.W.CurrentTick() != h.W.CurrentTick() || h2.Digest() != h.Digest() {
		t.Fatalf("resumed at tick %d digest %s, want %d %s", h2.W.CurrentTick(), h2.Digest(), h.W.CurrentTick(), h.Digest())
	}

	// Both worlds get the same continuation, including generated item ids.
	contA := requestStream(5, h.W.LaneIDs())
	contB := requestStream(5, h.W.LaneIDs())
	for i := 0; i < 60; i++ {
		e1 := h.Apply(contA())
		e2 := h2.Apply(contB())
		if e1.Digest != e2.Digest {
			t.Fatalf("digest mismatch at tick %d", e1.Tick)
		}
	}
}
