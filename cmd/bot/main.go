package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"beltline.ai/internal/protocol"
)

// The bot feeds one lane and drains another over the observer socket.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/observe", "observer ws url")
		feedLane  = flag.String("feed", "feed_a.L", "lane to insert items onto")
		feedPos   = flag.Int("pos", 255, "insert position on the feed lane")
		kind      = flag.String("kind", "ore", "kind of inserted items")
		every     = flag.Uint64("every", 10, "insert every N ticks")
		drainLane = flag.String("drain", "", "lane to take items from when one reaches its exit (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	b := &feeder{feed: *feedLane, pos: *feedPos, kind: *kind, every: *every, drain: *drainLane}
	if err := conn.WriteJSON(b.subscribe()); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeTick:
			var t protocol.TickMsg
			if err := json.Unmarshal(msg, &t); err != nil {
				continue
			}
			for _, req := range b.onTick(&t) {
				_ = conn.WriteJSON(req)
			}
		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if a.OK {
				logger.Printf("ACK %s tick=%d item=%s", a.RequestID, a.Tick, a.ItemID)
			} else {
				logger.Printf("NACK %s tick=%d %s: %s", a.RequestID, a.Tick, a.Code, a.Message)
			}
		}
	}
}

type feeder struct {
	feed  string
	pos   int
	kind  string
	every uint64
	drain string

	// takePending avoids a second TAKE before the first one is answered.
	takePending bool
}

func (f *feeder) subscribe() protocol.SubscribeMsg {
	lanes := []string{f.feed}
	if f.drain != "" && f.drain != f.feed {
		lanes = append(lanes, f.drain)
	}
	return protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Lanes: lanes}
}

// onTick returns the requests to send after observing a TICK frame.
func (f *feeder) onTick(t *protocol.TickMsg) []any {
	var out []any
	if f.every > 0 && t.Tick%f.every == 0 {
		out = append(out, protocol.InsertMsg{
			Type:            protocol.TypeInsert,
			ProtocolVersion: protocol.Version,
			RequestID:       uuid.NewString(),
			Lane:            f.feed,
			Pos:             f.pos,
			Kind:            f.kind,
		})
	}
	if f.drain == "" {
		return out
	}
	atExit := false
	for _, l := range t.Lanes {
		if l.ID == f.drain && len(l.Items) > 0 && l.Items[0].Pos == 0 {
			atExit = true
		}
	}
	if atExit && !f.takePending {
		f.takePending = true
		out = append(out, protocol.TakeMsg{
			Type:            protocol.TypeTake,
			ProtocolVersion: protocol.Version,
			RequestID:       uuid.NewString(),
			Lane:            f.drain,
		})
	} else if !atExit {
		f.takePending = false
	}
	return out
}
