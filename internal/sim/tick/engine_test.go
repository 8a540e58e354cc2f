package tick

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"beltline.ai/internal/sim/lane"
)

func mustLane(t *testing.T, id lane.ID, p lane.Params, pos ...int) *lane.Lane {
	t.Helper()
	l, err := lane.New(id, p)
	if err != nil {
		t.Fatalf("lane.New: %v", err)
	}
	next := make([]lane.Slot, 0, len(pos))
	for _, x := range pos {
		next = append(next, lane.Slot{Pos: x, Item: lane.Item{ID: fmt.Sprintf("%s@%d", id, x)}})
	}
	if err := l.Commit(next); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return l
}

func positions(s []lane.Slot) []int {
	out := make([]int, 0, len(s))
	for _, x := range s {
		out = append(out, x.Pos)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCompute_LeadClampsAtExit(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 16}, 10)
	res := Compute(a, nil)
	if got := positions(res.Next); !equalInts(got, []int{0}) {
		t.Fatalf("Next=%v want [0]", got)
	}
	if res.Transfer != nil || len(res.Consumed) != 0 {
		t.Fatalf("unexpected exit: %+v", res)
	}
}

func TestCompute_TransferCarriesExcess(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 16, Out: "B"}, 5)
	b := mustLane(t, "B", lane.Params{Length: 256, Speed: 16})
	res := Compute(a, b)
	if len(res.Next) != 0 {
		t.Fatalf("item still on A: %v", positions(res.Next))
	}
	tr := res.Transfer
	if tr == nil {
		t.Fatalf("expected transfer")
	}
	if tr.From != "A" || tr.To != "B" || tr.Item.ID != "A@5" {
		t.Fatalf("transfer=%+v", tr)
	}
	if tr.Want != 244 || tr.Pos != 244 {
		t.Fatalf("want=%d pos=%d, expected 244", tr.Want, tr.Pos)
	}
}

func TestCompute_BackPressureHoldsAtExit(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 16, Out: "B"}, 3)
	b := mustLane(t, "B", lane.Params{Length: 256, Speed: 16}, 250)
	for i := 0; i < 3; i++ {
		res := Compute(a, b)
		if res.Transfer != nil {
			t.Fatalf("tick %d: transfer despite full entry", i)
		}
		if got := positions(res.Next); !equalInts(got, []int{0}) {
			t.Fatalf("tick %d: Next=%v want [0]", i, got)
		}
		if err := a.Commit(res.Next); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}
}

func TestCompute_DestinationAtCapacityRefuses(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 8, Out: "B"}, 4)
	b := mustLane(t, "B", lane.Params{Length: 4096, Speed: 8}, 0, 64, 128, 192, 256, 320, 384, 448)
	res := Compute(a, b)
	if res.Transfer != nil {
		t.Fatalf("transfer into full lane")
	}
	if got := positions(res.Next); !equalInts(got, []int{0}) {
		t.Fatalf("Next=%v", got)
	}
}

func TestCompute_TransferSpacedBehindDestinationTail(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 16, Out: "B"}, 5)
	b := mustLane(t, "B", lane.Params{Length: 256, Speed: 16}, 190)
	res := Compute(a, b)
	if res.Transfer == nil {
		t.Fatalf("expected transfer")
	}
	if res.Transfer.Want != 244 || res.Transfer.Pos != 254 {
		t.Fatalf("transfer=%+v, want pos 254", res.Transfer)
	}
}

func TestCompute_OverlapFreezeThenRelease(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 8, Exit: lane.ExitConsume}, 5, 50)

	res := Compute(a, nil)
	if len(res.Consumed) != 1 || res.Consumed[0].ID != "A@5" {
		t.Fatalf("Consumed=%+v", res.Consumed)
	}
	if got := positions(res.Next); !equalInts(got, []int{50}) {
		t.Fatalf("tick 1 Next=%v want [50] (frozen)", got)
	}
	if err := a.Commit(res.Next); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	res = Compute(a, nil)
	if got := positions(res.Next); !equalInts(got, []int{42}) {
		t.Fatalf("tick 2 Next=%v want [42]", got)
	}
}

func TestCompute_OverlapFreezeWithHeldLead(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 8}, 5, 50)
	res := Compute(a, nil)
	if got := positions(res.Next); !equalInts(got, []int{0, 50}) {
		t.Fatalf("Next=%v want [0 50]", got)
	}
}

func TestCompute_SpacingClamp(t *testing.T) {
	// Follower is compliant (gap 70) but would close to 54 at speed 24.
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 24}, 100, 170)
	res := Compute(a, nil)
	if got := positions(res.Next); !equalInts(got, []int{76, 146}) {
		t.Fatalf("Next=%v want [76 146]", got)
	}

	// Lead held at exit: follower stops exactly MinGap behind it.
	b := mustLane(t, "B", lane.Params{Length: 256, Speed: 32}, 0, 80)
	res = Compute(b, nil)
	if got := positions(res.Next); !equalInts(got, []int{0, 64}) {
		t.Fatalf("Next=%v want [0 64]", got)
	}
}

func TestCompute_EmptyLane(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 8, Out: "B"})
	b := mustLane(t, "B", lane.Params{Length: 256, Speed: 8})
	res := Compute(a, b)
	if len(res.Next) != 0 || res.Transfer != nil {
		t.Fatalf("res=%+v", res)
	}
}

func TestCompute_ShortDestinationNoMultiHop(t *testing.T) {
	a := mustLane(t, "A", lane.Params{Length: 256, Speed: 32, Out: "B"}, 2)
	b := mustLane(t, "B", lane.Params{Length: 16, Speed: 32})
	res := Compute(a, b)
	if res.Transfer == nil {
		t.Fatalf("expected transfer")
	}
	// Excess 30 overshoots B entirely; the item stops at B's exit instead of hopping on.
	if res.Transfer.Pos != 0 {
		t.Fatalf("Pos=%d want 0", res.Transfer.Pos)
	}
}

func TestCompute_RandomProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 5000; iter++ {
		length := 64 + rng.Intn(960)
		speed := 1 + rng.Intn(40)
		n := rng.Intn(lane.Capacity + 1)
		used := map[int]bool{}
		var pos []int
		for len(pos) < n && len(used) < length {
			p := rng.Intn(length)
			if used[p] {
				continue
			}
			used[p] = true
			pos = append(pos, p)
		}
		sort.Ints(pos)
		p := lane.Params{Length: length, Speed: speed}
		if rng.Intn(2) == 0 {
			p.Exit = lane.ExitConsume
		}
		src := mustLane(t, "S", p, pos...)
		res := Compute(src, nil)

		if err := lane.Validate(res.Next, length); err != nil {
			t.Fatalf("iter %d: invalid output %v from %v: %v", iter, positions(res.Next), pos, err)
		}
		outPos := map[string]int{}
		for _, s := range res.Next {
			outPos[s.Item.ID] = s.Pos
		}
		in := src.Items()
		for i, s := range in {
			np, ok := outPos[s.Item.ID]
			if !ok {
				continue
			}
			if np > s.Pos || s.Pos-np > speed {
				t.Fatalf("iter %d: item %d moved %d -> %d at speed %d", iter, i, s.Pos, np, speed)
			}
			if i == 0 {
				continue
			}
			prevNP, ok := outPos[in[i-1].Item.ID]
			if !ok {
				continue
			}
			gapIn := s.Pos - in[i-1].Pos
			gapOut := np - prevNP
			if gapOut <= 0 {
				t.Fatalf("iter %d: overtaking at %d: %v -> %v", iter, i, pos, positions(res.Next))
			}
			if gapIn >= lane.MinGap && gapOut < lane.MinGap {
				t.Fatalf("iter %d: new overlap at %d: gap %d -> %d", iter, i, gapIn, gapOut)
			}
			if gapIn < lane.MinGap && gapOut < gapIn {
				t.Fatalf("iter %d: overlap worsened at %d: gap %d -> %d", iter, i, gapIn, gapOut)
			}
		}
	}
}
