package world

import "beltline.ai/internal/sim/lane"

// LaneSpec describes a lane at construction time.
type LaneSpec struct {
	ID     lane.ID
	Params lane.Params
	Items  []lane.Slot
}

type InsertRequest struct {
	Lane lane.ID
	Pos  int
	// Item.ID may be empty; the world assigns one.
	Item lane.Item
	// Resp, when set, must have room for one response.
	Resp chan InsertResponse
}

type InsertResponse struct {
	Tick uint64
	Item lane.Item
	Err  error
}

type TakeRequest struct {
	Lane lane.ID
	Resp chan TakeResponse
}

type TakeResponse struct {
	Tick uint64
	Item lane.Item
	OK   bool
	Err  error
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick      uint64             `json:"tick"`
	Takes     []RecordedTake     `json:"takes,omitempty"`
	Inserts   []RecordedInsert   `json:"inserts,omitempty"`
	Transfers []RecordedTransfer `json:"transfers,omitempty"`
	Refused   []RecordedTransfer `json:"refused,omitempty"`
	Consumed  []RecordedConsume  `json:"consumed,omitempty"`
	Digest    string             `json:"digest"`
}

type RecordedInsert struct {
	Lane  lane.ID   `json:"lane"`
	Pos   int       `json:"pos"`
	Item  lane.Item `json:"item"`
	Error string    `json:"error,omitempty"`
}

type RecordedTake struct {
	Lane   lane.ID `json:"lane"`
	ItemID string  `json:"item_id,omitempty"`
}

type RecordedTransfer struct {
	From   lane.ID `json:"from"`
	To     lane.ID `json:"to"`
	ItemID string  `json:"item_id"`
	Pos    int     `json:"pos"`
}

type RecordedConsume struct {
	Lane   lane.ID `json:"lane"`
	ItemID string  `json:"item_id"`
}

// Generation is an immutable view of every lane after a completed tick.
type Generation struct {
	// Tick is the next tick to be stepped from this state.
	Tick uint64
	// Digest is the one logged for tick Tick-1.
	Digest string
	Lanes  map[lane.ID][]lane.Slot
}
