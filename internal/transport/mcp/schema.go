package mcp

// LaneStateInput defines the input for the lane_state tool.
type LaneStateInput struct {
	Lane string `json:"lane,omitempty" jsonschema:"Lane id to inspect. Empty lists every lane."`
}

type LaneStateOutput struct {
	Tick   uint64      `json:"tick" jsonschema:"Next tick to be stepped"`
	Digest string      `json:"digest" jsonschema:"State digest logged for the previous tick"`
	Lanes  []LaneState `json:"lanes"`
}

type LaneState struct {
	ID     string     `json:"id"`
	Length int        `json:"length"`
	Speed  int        `json:"speed"`
	Out    string     `json:"out,omitempty"`
	Exit   string     `json:"exit"`
	Items  []ItemSlot `json:"items"`
}

type ItemSlot struct {
	Pos    int    `json:"pos"`
	ItemID string `json:"item_id"`
	Kind   string `json:"kind,omitempty"`
}

type WorldMetricsInput struct{}

type WorldMetricsOutput struct {
	Tick           uint64  `json:"tick"`
	Lanes          int     `json:"lanes"`
	Items          int     `json:"items"`
	Observers      int     `json:"observers"`
	Backpressured  int     `json:"backpressured" jsonschema:"Connected lanes whose lead item is held at the exit"`
	StepMS         float64 `json:"step_ms"`
	InsertedTotal  uint64  `json:"inserted_total"`
	TakenTotal     uint64  `json:"taken_total"`
	TransfersTotal uint64  `json:"transfers_total"`
	RefusedTotal   uint64  `json:"refused_total"`
	ConsumedTotal  uint64  `json:"consumed_total"`
}

// InsertItemInput defines the input for the insert_item tool.
type InsertItemInput struct {
	Lane   string `json:"lane" jsonschema:"Lane to insert into"`
	Pos    int    `json:"pos" jsonschema:"Position on the lane. 0 is the exit."`
	ItemID string `json:"item_id,omitempty" jsonschema:"Item id. Generated when empty."`
	Kind   string `json:"kind,omitempty" jsonschema:"Free-form item kind"`
}

type InsertItemOutput struct {
	Queued bool   `json:"queued" jsonschema:"True when the insert waits for the next step call"`
	Tick   uint64 `json:"tick,omitempty"`
	ItemID string `json:"item_id,omitempty"`
}

type TakeItemInput struct {
	Lane string `json:"lane" jsonschema:"Lane whose exit item is removed"`
}

type TakeItemOutput struct {
	Queued bool   `json:"queued"`
	Tick   uint64 `json:"tick,omitempty"`
	Taken  bool   `json:"taken"`
	ItemID string `json:"item_id,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// StepInput defines the input for the step tool. Only manual worlds accept it.
type StepInput struct {
	Ticks int `json:"ticks,omitempty" jsonschema:"Number of ticks to advance (default 1, max 1000)"`
}

type StepOutput struct {
	Tick    uint64          `json:"tick" jsonschema:"Next tick after stepping"`
	Digest  string          `json:"digest" jsonschema:"Digest of the last stepped tick"`
	Inserts []RequestResult `json:"inserts,omitempty" jsonschema:"Outcome of queued inserts, applied on the first tick"`
	Takes   []RequestResult `json:"takes,omitempty" jsonschema:"Outcome of queued takes, applied on the first tick"`
}

type RequestResult struct {
	Lane   string `json:"lane"`
	OK     bool   `json:"ok"`
	ItemID string `json:"item_id,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}
