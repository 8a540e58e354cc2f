package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"beltline.ai/internal/protocol"
	"beltline.ai/internal/sim/lane"
	"beltline.ai/internal/sim/world"
)

func startWorld(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "obs", TickRateHz: 50}, []world.LaneSpec{
		{ID: "A", Params: lane.Params{Speed: 8, Out: "B"}},
		{ID: "B", Params: lane.Params{Speed: 8}},
	}, []world.Belt{{ID: "b0", Pos: world.Coordinate{X: 1, Y: 2}, Dir: world.West, Left: "A", Right: "B"}})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()

	s := NewServer(w, nil, Options{MaxSessions: 2})
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observe", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return w, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ {
			return msg
		}
	}
}

func TestBootstrap(t *testing.T) {
	_, srv := startWorld(t)
	resp, err := http.Get(srv.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b protocol.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.WorldID != "obs" || b.ProtocolVersion != protocol.Version || b.WorldParams.MinGap != lane.MinGap {
		t.Fatalf("bootstrap = %+v", b)
	}
	if len(b.Lanes) != 2 || b.Lanes[0].Out != "B" || b.Lanes[0].Length != lane.DefaultLength {
		t.Fatalf("lanes = %+v", b.Lanes)
	}
	if len(b.Belts) != 1 || b.Belts[0].Dir != "W" || b.Belts[0].Pos != [2]int{1, 2} {
		t.Fatalf("belts = %+v", b.Belts)
	}

	post, err := http.Post(srv.URL+"/v1/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", post.StatusCode)
	}
}

func TestWS_SubscribeInsertTake(t *testing.T) {
	_, srv := startWorld(t)
	conn := dial(t, srv)
	send(t, conn, protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Lanes: []string{"A"}})

	var tick protocol.TickMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeTick), &tick); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(tick.Lanes) != 1 || tick.Lanes[0].ID != "A" || len(tick.Digest) != 64 {
		t.Fatalf("tick frame = %+v", tick)
	}

	send(t, conn, protocol.InsertMsg{Type: protocol.TypeInsert, ProtocolVersion: protocol.Version, RequestID: "r1", Lane: "A", Pos: 200, Kind: "ore"})
	var ack protocol.AckMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeAck), &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !ack.OK || ack.RequestID != "r1" || ack.ItemID != "I000001" {
		t.Fatalf("insert ack = %+v", ack)
	}

	send(t, conn, protocol.InsertMsg{Type: protocol.TypeInsert, ProtocolVersion: protocol.Version, RequestID: "r2", Lane: "Z", Pos: 3})
	ack = protocol.AckMsg{}
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeAck), &ack)
	if ack.OK || ack.Code != protocol.ErrUnknownLane || ack.RequestID != "r2" {
		t.Fatalf("unknown lane ack = %+v", ack)
	}

	// Schema rejects a negative position before it reaches the world.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"INSERT","protocol_version":"1.0","lane":"A","pos":-4}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack = protocol.AckMsg{}
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeAck), &ack)
	if ack.OK || ack.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("schema ack = %+v", ack)
	}

	send(t, conn, protocol.TakeMsg{Type: protocol.TypeTake, ProtocolVersion: protocol.Version, RequestID: "r3", Lane: "B"})
	ack = protocol.AckMsg{}
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeAck), &ack)
	if ack.OK || ack.Code != protocol.ErrNothingAtExit {
		t.Fatalf("take ack = %+v", ack)
	}
}

func TestWS_HandshakeRequiresSubscribe(t *testing.T) {
	_, srv := startWorld(t)
	conn := dial(t, srv)
	send(t, conn, protocol.TakeMsg{Type: protocol.TypeTake, ProtocolVersion: protocol.Version, Lane: "A"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err = %v, want policy violation close", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.3:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q) = %v", in, got)
		}
	}
}
