package protocol

// SUBSCRIBE (client -> server). First message on an observer connection;
// may be re-sent to change the lane filter. Empty Lanes means all lanes.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Lanes           []string `json:"lanes,omitempty"`
}

// TICK (server -> client). Sent after every completed tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Digest          string `json:"digest"`

	Lanes     []LaneFrame     `json:"lanes"`
	Transfers []TransferFrame `json:"transfers,omitempty"`
	Refused   []TransferFrame `json:"refused,omitempty"`
	Consumed  []ConsumeFrame  `json:"consumed,omitempty"`
}

type LaneFrame struct {
	ID    string      `json:"id"`
	Items []SlotFrame `json:"items"`
}

type SlotFrame struct {
	Pos    int    `json:"pos"`
	ItemID string `json:"item_id"`
	Kind   string `json:"kind,omitempty"`
}

type TransferFrame struct {
	From   string `json:"from"`
	To     string `json:"to"`
	ItemID string `json:"item_id"`
	Pos    int    `json:"pos"`
}

type ConsumeFrame struct {
	Lane   string `json:"lane"`
	ItemID string `json:"item_id"`
}

// INSERT (client -> server). Places an item on a lane at the next tick boundary.
type InsertMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Lane            string `json:"lane"`
	Pos             int    `json:"pos"`
	ItemID          string `json:"item_id,omitempty"`
	Kind            string `json:"kind,omitempty"`
}

// TAKE (client -> server). Removes the item held at a lane's exit.
type TakeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Lane            string `json:"lane"`
}

// ACK (server -> client). Answers INSERT and TAKE.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	Tick            uint64 `json:"tick"`
	OK              bool   `json:"ok"`
	ItemID          string `json:"item_id,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	RunID           string      `json:"run_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Lanes           []LaneInfo  `json:"lanes"`
	Belts           []BeltInfo  `json:"belts,omitempty"`
}

type WorldParams struct {
	TickRateHz int `json:"tick_rate_hz"`
	Capacity   int `json:"lane_capacity"`
	MinGap     int `json:"min_gap"`
}

type LaneInfo struct {
	ID     string `json:"id"`
	Length int    `json:"length"`
	Speed  int    `json:"speed"`
	Out    string `json:"out,omitempty"`
	Exit   string `json:"exit"`
}

type BeltInfo struct {
	ID    string `json:"id"`
	Pos   [2]int `json:"pos"`
	Dir   string `json:"dir"`
	Left  string `json:"left,omitempty"`
	Right string `json:"right,omitempty"`
}
