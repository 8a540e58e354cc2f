// Package tick computes one lane's next generation from the current one.
//
// Items are visited from the exit backwards. Each item is constrained only by
// the already-computed new position of the item ahead of it, so the output is
// ascending by construction and nothing overtakes.
package tick

import "beltline.ai/internal/sim/lane"

// Source is the read-only view of the lane being stepped.
type Source interface {
	ID() lane.ID
	Items() []lane.Slot
	Speed() int
	ConnectionOut() (lane.ID, bool)
	Exit() lane.ExitPolicy
}

// Destination is the read-only current state of a connected lane.
type Destination interface {
	Items() []lane.Slot
	Length() int
}

// Transfer is an item leaving its lane through the exit onto the connected lane.
type Transfer struct {
	From lane.ID   `json:"from"`
	To   lane.ID   `json:"to"`
	Item lane.Item `json:"item"`
	// Want is the entry position on To after carrying over the excess movement.
	Want int `json:"want"`
	// Pos is where the item would land against To's current generation.
	Pos int `json:"pos"`
}

type Result struct {
	Next     []lane.Slot
	Transfer *Transfer
	Consumed []lane.Item
}

// Compute returns src's next item list. dest is the current generation of the
// lane src connects to, or nil when src has no connection.
//
// At most one item leaves per tick: once the lead transfers or is consumed its
// followers are spaced against the exit, which also keeps a refused transfer
// safe to put back at position 0.
func Compute(src Source, dest Destination) Result {
	cur := src.Items()
	speed := src.Speed()
	out, connected := src.ConnectionOut()

	res := Result{Next: make([]lane.Slot, 0, len(cur))}
	prev := 0
	for i, s := range cur {
		if i == 0 {
			np := s.Pos - speed
			if np > 0 {
				res.Next = append(res.Next, lane.Slot{Pos: np, Item: s.Item})
				prev = np
				continue
			}
			prev = 0
			switch {
			case connected && dest != nil:
				want := dest.Length() - 1 + np
				if pos, ok := lane.Admit(dest.Items(), dest.Length(), want); ok {
					res.Transfer = &Transfer{From: src.ID(), To: out, Item: s.Item, Want: want, Pos: pos}
					continue
				}
			case !connected && src.Exit() == lane.ExitConsume:
				res.Consumed = append(res.Consumed, s.Item)
				continue
			}
			// Hold at the exit: no connection, or back-pressure.
			res.Next = append(res.Next, lane.Slot{Pos: 0, Item: s.Item})
			continue
		}

		floor := prev + lane.MinGap
		np := s.Pos
		if s.Pos > floor {
			np = max(s.Pos-speed, floor)
		}
		res.Next = append(res.Next, lane.Slot{Pos: np, Item: s.Item})
		prev = np
	}
	return res
}
