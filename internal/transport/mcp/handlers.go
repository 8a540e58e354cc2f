package mcp

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"beltline.ai/internal/sim/lane"
	"beltline.ai/internal/sim/world"
)

const maxStepTicks = 1000

var errLiveWorld = errors.New("step is only available on a manual world")

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "lane_state",
		Description: "Show the items on one lane, or on every lane, as of the last completed tick",
	}, s.handleLaneState)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "world_metrics",
		Description: "Report tick counters, item totals and back-pressure for the world",
	}, s.handleWorldMetrics)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "insert_item",
		Description: "Place an item on a lane at a position at the next tick boundary",
	}, s.handleInsertItem)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "take_item",
		Description: "Remove the item sitting at a lane's exit at the next tick boundary",
	}, s.handleTakeItem)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "step",
		Description: "Advance a manual world by one or more ticks, applying queued inserts and takes first",
	}, s.handleStep)
}

func (s *Server) handleLaneState(ctx context.Context, req *sdk.CallToolRequest, args LaneStateInput) (*sdk.CallToolResult, LaneStateOutput, error) {
	gen := s.world.Generation()
	out := LaneStateOutput{Tick: gen.Tick, Digest: gen.Digest, Lanes: []LaneState{}}

	ids := s.world.LaneIDs()
	if args.Lane != "" {
		if _, ok := s.world.LaneParams(lane.ID(args.Lane)); !ok {
			return nil, LaneStateOutput{}, fmt.Errorf("%w: %q", world.ErrUnknownLane, args.Lane)
		}
		ids = []lane.ID{lane.ID(args.Lane)}
	}
	for _, id := range ids {
		p, _ := s.world.LaneParams(id)
		ls := LaneState{
			ID:     string(id),
			Length: p.Length,
			Speed:  p.Speed,
			Out:    string(p.Out),
			Exit:   p.Exit.String(),
			Items:  []ItemSlot{},
		}
		for _, sl := range gen.Lanes[id] {
			ls.Items = append(ls.Items, ItemSlot{Pos: sl.Pos, ItemID: sl.Item.ID, Kind: sl.Item.Kind})
		}
		out.Lanes = append(out.Lanes, ls)
	}
	return nil, out, nil
}

func (s *Server) handleWorldMetrics(ctx context.Context, req *sdk.CallToolRequest, args WorldMetricsInput) (*sdk.CallToolResult, WorldMetricsOutput, error) {
	m := s.world.Metrics()
	return nil, WorldMetricsOutput{
		Tick:           m.Tick,
		Lanes:          m.Lanes,
		Items:          m.Items,
		Observers:      m.Observers,
		Backpressured:  m.Backpressured,
		StepMS:         m.StepMS,
		InsertedTotal:  m.InsertedTotal,
		TakenTotal:     m.TakenTotal,
		TransfersTotal: m.TransfersTotal,
		RefusedTotal:   m.RefusedTotal,
		ConsumedTotal:  m.ConsumedTotal,
	}, nil
}

func (s *Server) handleInsertItem(ctx context.Context, req *sdk.CallToolRequest, args InsertItemInput) (*sdk.CallToolResult, InsertItemOutput, error) {
	id := lane.ID(args.Lane)
	if _, ok := s.world.LaneParams(id); !ok {
		return nil, InsertItemOutput{}, toolError(fmt.Errorf("%w: %q", world.ErrUnknownLane, args.Lane))
	}
	it := lane.Item{ID: args.ItemID, Kind: args.Kind}

	if s.manual {
		s.mu.Lock()
		s.inserts = append(s.inserts, world.InsertRequest{Lane: id, Pos: args.Pos, Item: it, Resp: make(chan world.InsertResponse, 1)})
		s.mu.Unlock()
		return nil, InsertItemOutput{Queued: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.world.Insert(ctx, id, args.Pos, it)
	if err != nil {
		return nil, InsertItemOutput{}, toolError(err)
	}
	return nil, InsertItemOutput{Tick: resp.Tick, ItemID: resp.Item.ID}, nil
}

func (s *Server) handleTakeItem(ctx context.Context, req *sdk.CallToolRequest, args TakeItemInput) (*sdk.CallToolResult, TakeItemOutput, error) {
	id := lane.ID(args.Lane)
	if _, ok := s.world.LaneParams(id); !ok {
		return nil, TakeItemOutput{}, toolError(fmt.Errorf("%w: %q", world.ErrUnknownLane, args.Lane))
	}

	if s.manual {
		s.mu.Lock()
		s.takes = append(s.takes, world.TakeRequest{Lane: id, Resp: make(chan world.TakeResponse, 1)})
		s.mu.Unlock()
		return nil, TakeItemOutput{Queued: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.world.Take(ctx, id)
	if err != nil {
		return nil, TakeItemOutput{}, toolError(err)
	}
	return nil, TakeItemOutput{Tick: resp.Tick, Taken: true, ItemID: resp.Item.ID, Kind: resp.Item.Kind}, nil
}

func (s *Server) handleStep(ctx context.Context, req *sdk.CallToolRequest, args StepInput) (*sdk.CallToolResult, StepOutput, error) {
	if !s.manual {
		return nil, StepOutput{}, errLiveWorld
	}
	n := args.Ticks
	if n <= 0 {
		n = 1
	}
	if n > maxStepTicks {
		return nil, StepOutput{}, fmt.Errorf("ticks must be at most %d, got %d", maxStepTicks, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inserts, takes := s.inserts, s.takes
	s.inserts, s.takes = nil, nil

	var out StepOutput
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, StepOutput{}, err
		}
		var (
			digest string
			err    error
		)
		if i == 0 {
			_, digest, err = s.world.StepOnce(inserts, takes)
		} else {
			_, digest, err = s.world.StepOnce(nil, nil)
		}
		if err != nil {
			return nil, StepOutput{}, toolError(err)
		}
		out.Digest = digest
	}
	out.Tick = s.world.CurrentTick()

	for _, r := range inserts {
		res := RequestResult{Lane: string(r.Lane)}
		select {
		case resp := <-r.Resp:
			res.OK = resp.Err == nil
			res.ItemID = resp.Item.ID
			if resp.Err != nil {
				res.ItemID = ""
				res.Code, res.Error = world.ErrorCode(resp.Err), resp.Err.Error()
			}
		default:
		}
		out.Inserts = append(out.Inserts, res)
	}
	for _, r := range takes {
		res := RequestResult{Lane: string(r.Lane)}
		select {
		case resp := <-r.Resp:
			err := resp.Err
			if err == nil && !resp.OK {
				err = world.ErrNothingAtExit
			}
			res.OK = err == nil
			if err != nil {
				res.Code, res.Error = world.ErrorCode(err), err.Error()
			} else {
				res.ItemID = resp.Item.ID
			}
		default:
		}
		out.Takes = append(out.Takes, res)
	}
	if s.log != nil {
		s.log.Printf("step ticks=%d next=%d inserts=%d takes=%d", n, out.Tick, len(inserts), len(takes))
	}
	return nil, out, nil
}

// toolError prefixes err with its wire error code.
func toolError(err error) error {
	return fmt.Errorf("%s: %w", world.ErrorCode(err), err)
}
