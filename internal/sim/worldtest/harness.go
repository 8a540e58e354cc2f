package worldtest

import (
	"testing"

	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/lane"
	"beltline.ai/internal/sim/layout"
	world "beltline.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Insert()/Take() issue boundary requests via StepOnce()
// - Step()/StepFor() advance with no requests
// - Entries holds every logged tick
//
// It avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T *testing.T
	W *world.World

	Entries []world.TickLogEntry
}

type recorder struct{ h *Harness }

func (r recorder) WriteTick(e world.TickLogEntry) error {
	r.h.Entries = append(r.h.Entries, e)
	return nil
}

func NewHarness(t *testing.T, cfg world.WorldConfig, specs []world.LaneSpec) *Harness {
	t.Helper()
	w, err := world.New(cfg, specs, nil)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w)
}

// NewHarnessFromLayout builds the world described by a layout file.
func NewHarnessFromLayout(t *testing.T, path string, cfg world.WorldConfig) *Harness {
	t.Helper()
	l, err := layout.Load(path)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	w, err := l.NewWorld(cfg)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return NewHarnessWithWorld(t, w)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world instance.
// This is useful for snapshot round-trip tests where the snapshot is imported first.
func NewHarnessWithWorld(t *testing.T, w *world.World) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	h := &Harness{T: t, W: w}
	w.SetTickLogger(recorder{h: h})
	return h
}

// Apply steps one tick with the given boundary requests and returns its log entry.
func (h *Harness) Apply(inserts []world.InsertRequest, takes []world.TakeRequest) world.TickLogEntry {
	h.T.Helper()
	want := h.W.CurrentTick()
	tick, _, err := h.W.StepOnce(inserts, takes)
	if err != nil {
		h.T.Fatalf("step %d: %v", want, err)
	}
	if tick != want {
		h.T.Fatalf("stepped tick %d, want %d", tick, want)
	}
	return h.Entries[len(h.Entries)-1]
}

func (h *Harness) Step() world.TickLogEntry {
	h.T.Helper()
	return h.Apply(nil, nil)
}

func (h *Harness) StepFor(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// Insert places an item at the next tick boundary and steps that tick.
func (h *Harness) Insert(id lane.ID, pos int, it lane.Item) world.InsertResponse {
	h.T.Helper()
	resp := make(chan world.InsertResponse, 1)
	h.Apply([]world.InsertRequest{{Lane: id, Pos: pos, Item: it, Resp: resp}}, nil)
	return <-resp
}

// Take removes the item at a lane's exit at the next tick boundary and steps that tick.
func (h *Harness) Take(id lane.ID) world.TakeResponse {
	h.T.Helper()
	resp := make(chan world.TakeResponse, 1)
	h.Apply(nil, []world.TakeRequest{{Lane: id, Resp: resp}})
	return <-resp
}

func (h *Harness) Lane(id lane.ID) []lane.Slot {
	return h.W.Generation().Lanes[id]
}

func (h *Harness) Digest() string {
	return h.W.Generation().Digest
}

// Snapshot exports the last completed tick, so importing it restores CurrentTick.
func (h *Harness) Snapshot() (tick uint64, snap snapshot.SnapshotV1) {
	h.T.Helper()
	cur := h.W.CurrentTick()
	if cur == 0 {
		return 0, h.W.ExportSnapshot(0)
	}
	tick = cur - 1
	return tick, h.W.ExportSnapshot(tick)
}

// CheckInvariants fails the test if any lane breaks ordering, spacing,
// bounds or capacity, or if an item id appears twice across the world.
func (h *Harness) CheckInvariants() {
	h.T.Helper()
	g := h.W.Generation()
	seen := map[string]lane.ID{}
	for _, id := range h.W.LaneIDs() {
		p, _ := h.W.LaneParams(id)
		slots := g.Lanes[id]
		if err := lane.Validate(slots, p.Length); err != nil {
			h.T.Fatalf("tick %d lane %s: %v (%+v)", g.Tick, id, err, slots)
		}
		for _, s := range slots {
			if other, dup := seen[s.Item.ID]; dup {
				h.T.Fatalf("tick %d: item %s on both %s and %s", g.Tick, s.Item.ID, other, id)
			}
			seen[s.Item.ID] = id
		}
	}
}

// ItemCount returns the number of items on all lanes.
func (h *Harness) ItemCount() int {
	n := 0
	for _, slots := range h.W.Generation().Lanes {
		n += len(slots)
	}
	return n
}
