package main

import (
	"testing"

	"beltline.ai/internal/protocol"
)

func TestFeeder_OnTick(t *testing.T) {
	f := &feeder{feed: "a.L", pos: 200, kind: "ore", every: 5, drain: "b.L"}
	if sub := f.subscribe(); len(sub.Lanes) != 2 || sub.Lanes[1] != "b.L" {
		t.Fatalf("subscribe = %+v", sub)
	}

	reqs := f.onTick(&protocol.TickMsg{Tick: 10})
	if len(reqs) != 1 {
		t.Fatalf("tick 10 reqs = %+v", reqs)
	}
	in, ok := reqs[0].(protocol.InsertMsg)
	if !ok || in.Lane != "a.L" || in.Pos != 200 || in.Kind != "ore" || in.RequestID == "" {
		t.Fatalf("insert = %+v", reqs[0])
	}

	exit := &protocol.TickMsg{Tick: 11, Lanes: []protocol.LaneFrame{{ID: "b.L", Items: []protocol.SlotFrame{{Pos: 0, ItemID: "x"}}}}}
	reqs = f.onTick(exit)
	if len(reqs) != 1 {
		t.Fatalf("tick 11 reqs = %+v", reqs)
	}
	if tk, ok := reqs[0].(protocol.TakeMsg); !ok || tk.Lane != "b.L" {
		t.Fatalf("take = %+v", reqs[0])
	}
	// Still at the exit: no second TAKE until the lane clears.
	exit.Tick = 12
	if reqs = f.onTick(exit); len(reqs) != 0 {
		t.Fatalf("tick 12 reqs = %+v", reqs)
	}
	if reqs = f.onTick(&protocol.TickMsg{Tick: 13}); len(reqs) != 0 || f.takePending {
		t.Fatalf("tick 13 reqs = %+v pending=%v", reqs, f.takePending)
	}
}
