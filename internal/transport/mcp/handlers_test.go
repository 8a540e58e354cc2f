package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"beltline.ai/internal/sim/lane"
	"beltline.ai/internal/sim/world"
)

func setupTestServer(t *testing.T, manual bool) (*Server, *world.World) {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "mcp", TickRateHz: 50}, []world.LaneSpec{
		{ID: "A", Params: lane.Params{Speed: 8, Out: "B"}},
		{ID: "B", Params: lane.Params{Speed: 8, Exit: lane.ExitConsume}},
	}, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	s, err := NewServer(Config{Name: "test-server", Version: "v1.0.0", World: w, Manual: manual})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, w
}

func TestHandleStep_AppliesQueuedRequests(t *testing.T) {
	s, _ := setupTestServer(t, true)
	ctx := context.Background()
	req := &sdk.CallToolRequest{}

	_, ins, err := s.handleInsertItem(ctx, req, InsertItemInput{Lane: "A", Pos: 3, Kind: "ore"})
	if err != nil || !ins.Queued {
		t.Fatalf("insert = %+v, %v", ins, err)
	}
	_, tk, err := s.handleTakeItem(ctx, req, TakeItemInput{Lane: "B"})
	if err != nil || !tk.Queued {
		t.Fatalf("take = %+v, %v", tk, err)
	}

	result, out, err := s.handleStep(ctx, req, StepInput{})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result (SDK auto-populates)")
	}
	if out.Tick != 1 || len(out.Digest) != 64 {
		t.Fatalf("step output = %+v", out)
	}
	if len(out.Inserts) != 1 || !out.Inserts[0].OK || out.Inserts[0].ItemID != "I000001" {
		t.Fatalf("inserts = %+v", out.Inserts)
	}
	if len(out.Takes) != 1 || out.Takes[0].OK || out.Takes[0].Code != "E_NOTHING_AT_EXIT" {
		t.Fatalf("takes = %+v", out.Takes)
	}

	// The item crossed to B in the same tick: 3-8 overshoots by 5.
	_, st, err := s.handleLaneState(ctx, req, LaneStateInput{Lane: "B"})
	if err != nil {
		t.Fatalf("lane_state: %v", err)
	}
	if len(st.Lanes) != 1 || len(st.Lanes[0].Items) != 1 {
		t.Fatalf("lane state = %+v", st)
	}
	if got := st.Lanes[0].Items[0]; got.Pos != 250 || got.ItemID != "I000001" || got.Kind != "ore" {
		t.Fatalf("item = %+v", got)
	}
	if st.Lanes[0].Exit != "CONSUME" || st.Tick != 1 || st.Digest != out.Digest {
		t.Fatalf("lane header = %+v", st)
	}

	_, again, err := s.handleStep(ctx, req, StepInput{Ticks: 3})
	if err != nil {
		t.Fatalf("step 3: %v", err)
	}
	if again.Tick != 4 || len(again.Inserts) != 0 {
		t.Fatalf("second step = %+v", again)
	}

	_, m, err := s.handleWorldMetrics(ctx, req, WorldMetricsInput{})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.Tick != 4 || m.InsertedTotal != 1 || m.TransfersTotal != 1 || m.Items != 1 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestHandleStep_Bounds(t *testing.T) {
	s, _ := setupTestServer(t, true)
	if _, _, err := s.handleStep(context.Background(), &sdk.CallToolRequest{}, StepInput{Ticks: maxStepTicks + 1}); err == nil {
		t.Fatalf("expected error above max ticks")
	}

	live, _ := setupTestServer(t, false)
	if _, _, err := live.handleStep(context.Background(), &sdk.CallToolRequest{}, StepInput{}); !errors.Is(err, errLiveWorld) {
		t.Fatalf("live step err = %v", err)
	}
}

func TestHandleInsert_UnknownLane(t *testing.T) {
	s, _ := setupTestServer(t, true)
	_, _, err := s.handleInsertItem(context.Background(), &sdk.CallToolRequest{}, InsertItemInput{Lane: "nope"})
	if !errors.Is(err, world.ErrUnknownLane) || !strings.HasPrefix(err.Error(), "E_UNKNOWN_LANE") {
		t.Fatalf("err = %v", err)
	}
	if _, _, err := s.handleLaneState(context.Background(), &sdk.CallToolRequest{}, LaneStateInput{Lane: "nope"}); err == nil {
		t.Fatalf("expected lane_state on unknown lane to fail")
	}
}

func TestHandleInsert_LiveWorld(t *testing.T) {
	s, w := setupTestServer(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	_, out, err := s.handleInsertItem(ctx, &sdk.CallToolRequest{}, InsertItemInput{Lane: "A", Pos: 128, ItemID: "crate-1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if out.Queued || out.ItemID != "crate-1" {
		t.Fatalf("insert = %+v", out)
	}

	_, _, err = s.handleInsertItem(ctx, &sdk.CallToolRequest{}, InsertItemInput{Lane: "A", Pos: 999})
	if err == nil || !strings.HasPrefix(err.Error(), "E_INVALID_POSITION") {
		t.Fatalf("out of range insert err = %v", err)
	}
}

func TestServer_ToolsOverInMemoryTransport(t *testing.T) {
	s, _ := setupTestServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ct, st := sdk.NewInMemoryTransports()
	ss, err := s.server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"lane_state", "world_metrics", "insert_item", "take_item", "step"} {
		if !names[want] {
			t.Errorf("tool %q not registered", want)
		}
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: "step", Arguments: map[string]any{"ticks": 2}})
	if err != nil {
		t.Fatalf("call step: %v", err)
	}
	if res.IsError {
		t.Fatalf("step returned tool error: %+v", res.Content)
	}
	if s.world.CurrentTick() != 2 {
		t.Fatalf("tick = %d, want 2", s.world.CurrentTick())
	}
}
