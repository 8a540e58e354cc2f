package world

import (
	"encoding/json"

	"beltline.ai/internal/protocol"
	"beltline.ai/internal/sim/lane"
)

// ObserverJoinRequest registers a read-only observer session that receives a
// TICK frame after every completed tick on TickOut.
//
// All observer state is maintained by the world loop goroutine.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte

	// Empty means every lane.
	Lanes []lane.ID
}

// ObserverSubscribeRequest replaces an existing session's lane filter.
type ObserverSubscribeRequest struct {
	SessionID string
	Lanes     []lane.ID
}

type observerClient struct {
	id      string
	tickOut chan []byte
	lanes   map[lane.ID]bool
}

func laneFilter(ids []lane.ID) map[lane.ID]bool {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[lane.ID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (c *observerClient) wants(id lane.ID) bool {
	return c.lanes == nil || c.lanes[id]
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		lanes:   laneFilter(req.Lanes),
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.lanes = laneFilter(req.Lanes)
}

func (w *World) handleObserverLeave(id string) {
	c := w.observers[id]
	if c == nil {
		return
	}
	close(c.tickOut)
	delete(w.observers, id)
}

// stepObservers fans one TICK frame out per session. Slow sessions only ever
// see the latest frame.
func (w *World) stepObservers(nowTick uint64, entry TickLogEntry) {
	if len(w.observers) == 0 {
		return
	}

	frames := make([]protocol.LaneFrame, 0, len(w.order))
	for _, id := range w.order {
		items := w.lanes[id].Items()
		slots := make([]protocol.SlotFrame, 0, len(items))
		for _, s := range items {
			slots = append(slots, protocol.SlotFrame{Pos: s.Pos, ItemID: s.Item.ID, Kind: s.Item.Kind})
		}
		frames = append(frames, protocol.LaneFrame{ID: string(id), Items: slots})
	}

	for _, c := range w.observers {
		msg := protocol.TickMsg{
			Type:            protocol.TypeTick,
			ProtocolVersion: protocol.Version,
			Tick:            nowTick,
			Digest:          entry.Digest,
		}
		for _, f := range frames {
			if c.wants(lane.ID(f.ID)) {
				msg.Lanes = append(msg.Lanes, f)
			}
		}
		if msg.Lanes == nil {
			msg.Lanes = []protocol.LaneFrame{}
		}
		for _, tr := range entry.Transfers {
			if c.wants(tr.From) || c.wants(tr.To) {
				msg.Transfers = append(msg.Transfers, transferFrame(tr))
			}
		}
		for _, tr := range entry.Refused {
			if c.wants(tr.From) || c.wants(tr.To) {
				msg.Refused = append(msg.Refused, transferFrame(tr))
			}
		}
		for _, cr := range entry.Consumed {
			if c.wants(cr.Lane) {
				msg.Consumed = append(msg.Consumed, protocol.ConsumeFrame{Lane: string(cr.Lane), ItemID: cr.ItemID})
			}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		sendLatest(c.tickOut, b)
	}
}

func transferFrame(tr RecordedTransfer) protocol.TransferFrame {
	return protocol.TransferFrame{From: string(tr.From), To: string(tr.To), ItemID: tr.ItemID, Pos: tr.Pos}
}
