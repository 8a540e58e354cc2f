package world

import (
	"encoding/json"
	"testing"

	"beltline.ai/internal/protocol"
	"beltline.ai/internal/sim/lane"
)

func TestObserver_TickFrameFiltersLanes(t *testing.T) {
	w := newTestWorld(t, spec("A", "B", lane.ExitHold, 5), spec("B", "", lane.ExitHold), spec("C", "", lane.ExitHold, 100))

	all := make(chan []byte, 1)
	onlyC := make(chan []byte, 1)
	w.handleObserverJoin(ObserverJoinRequest{SessionID: "s1", TickOut: all})
	w.handleObserverJoin(ObserverJoinRequest{SessionID: "s2", TickOut: onlyC, Lanes: []lane.ID{"C"}})

	entry := mustStep(t, w)

	var msg protocol.TickMsg
	if err := json.Unmarshal(<-all, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != protocol.TypeTick || msg.Tick != 0 || msg.Digest != entry.Digest {
		t.Fatalf("unexpected frame header: %+v", msg)
	}
	if len(msg.Lanes) != 3 || len(msg.Transfers) != 1 || msg.Transfers[0].Pos != 252 {
		t.Fatalf("unexpected frame: %+v", msg)
	}

	msg = protocol.TickMsg{}
	if err := json.Unmarshal(<-onlyC, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(msg.Lanes) != 1 || msg.Lanes[0].ID != "C" || msg.Lanes[0].Items[0].Pos != 92 {
		t.Fatalf("filtered frame = %+v", msg)
	}
	if len(msg.Transfers) != 0 {
		t.Fatalf("transfer between unsubscribed lanes leaked: %+v", msg.Transfers)
	}

	// Resubscribe s2 to everything; slow consumers only keep the latest frame.
	w.handleObserverSubscribe(ObserverSubscribeRequest{SessionID: "s2"})
	mustStep(t, w)
	mustStep(t, w)
	msg = protocol.TickMsg{}
	if err := json.Unmarshal(<-onlyC, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Tick != 2 || len(msg.Lanes) != 3 {
		t.Fatalf("latest frame = tick %d lanes %d", msg.Tick, len(msg.Lanes))
	}

	w.handleObserverLeave("s1")
	if _, ok := <-all; ok {
		// Drain the buffered frame, then expect close.
		if _, ok := <-all; ok {
			t.Fatalf("expected channel closed after leave")
		}
	}
	// Metrics were stored before the leave.
	if w.Metrics().Observers != 2 {
		t.Fatalf("observers metric = %d", w.Metrics().Observers)
	}
}
