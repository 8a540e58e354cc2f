package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"beltline.ai/internal/protocol"
	"beltline.ai/internal/sim/lane"
	"beltline.ai/internal/sim/world"
)

type Options struct {
	// MaxSessions caps concurrent websocket sessions. Zero means unlimited.
	MaxSessions int
	// FrameBuffer is the per-session TICK queue length.
	FrameBuffer int
	// AllowRemote accepts non-loopback clients.
	AllowRemote bool
	// RequestTimeout bounds how long an INSERT or TAKE waits for its tick.
	RequestTimeout time.Duration
}

type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	active   atomic.Int64
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 4
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &Server{
		world: w,
		log:   logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions returns the number of open websocket sessions.
func (s *Server) Sessions() int { return int(s.active.Load()) }

func (s *Server) allowed(r *http.Request) bool {
	return s.opts.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			WorldID:         cfg.ID,
			RunID:           s.world.RunID(),
			Tick:            s.world.CurrentTick(),
			WorldParams: protocol.WorldParams{
				TickRateHz: cfg.TickRateHz,
				Capacity:   lane.Capacity,
				MinGap:     lane.MinGap,
			},
		}
		for _, id := range s.world.LaneIDs() {
			p, _ := s.world.LaneParams(id)
			resp.Lanes = append(resp.Lanes, protocol.LaneInfo{
				ID:     string(id),
				Length: p.Length,
				Speed:  p.Speed,
				Out:    string(p.Out),
				Exit:   p.Exit.String(),
			})
		}
		for _, b := range s.world.Belts() {
			resp.Belts = append(resp.Belts, protocol.BeltInfo{
				ID:    b.ID,
				Pos:   [2]int{b.Pos.X, b.Pos.Y},
				Dir:   b.Dir.String(),
				Left:  string(b.Left),
				Right: string(b.Right),
			})
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if limit := s.opts.MaxSessions; limit > 0 && int(s.active.Load()) >= limit {
			http.Error(rw, "too many observers", http.StatusServiceUnavailable)
			return
		}
		validator, err := protocol.DefaultValidator()
		if err != nil {
			http.Error(rw, "schemas unavailable", http.StatusInternalServerError)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.active.Add(1)
		defer s.active.Add(-1)

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := validator.Validate(protocol.TypeSubscribe, msg); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}
		var sub protocol.SubscribeMsg
		_ = json.Unmarshal(msg, &sub)
		if sub.ProtocolVersion != protocol.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "unsupported protocol_version")
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		tickOut := make(chan []byte, s.opts.FrameBuffer)
		ackOut := make(chan []byte, 64)

		select {
		case s.world.ObserverJoin() <- world.ObserverJoinRequest{SessionID: sid, TickOut: tickOut, Lanes: laneIDs(sub.Lanes)}:
		default:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()
		if s.log != nil {
			s.log.Printf("observer %s joined from %s lanes=%v", sid, r.RemoteAddr, sub.Lanes)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				var ok bool
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok = <-ackOut:
				case b, ok = <-tickOut:
				}
				if !ok {
					writeErr <- nil
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		ack := func(a protocol.AckMsg) {
			a.Type = protocol.TypeAck
			a.ProtocolVersion = protocol.Version
			b, _ := json.Marshal(a)
			select {
			case ackOut <- b:
			case <-ctx.Done():
			}
		}

		// Reader loop: SUBSCRIBE updates plus INSERT and TAKE requests.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				ack(protocol.AckMsg{Code: protocol.ErrProtoBadRequest, Message: "bad json"})
				continue
			}
			if err := validator.Validate(base.Type, msg); err != nil {
				ack(protocol.AckMsg{Code: protocol.ErrProtoBadRequest, Message: err.Error()})
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				ack(protocol.AckMsg{Code: protocol.ErrProtoVersion, Message: "unsupported protocol_version"})
				continue
			}

			switch base.Type {
			case protocol.TypeSubscribe:
				var sub protocol.SubscribeMsg
				_ = json.Unmarshal(msg, &sub)
				select {
				case s.world.ObserverSubscribe() <- world.ObserverSubscribeRequest{SessionID: sid, Lanes: laneIDs(sub.Lanes)}:
				default:
					// Drop updates under load; the client may resend.
				}
			case protocol.TypeInsert:
				var in protocol.InsertMsg
				_ = json.Unmarshal(msg, &in)
				go func() {
					rctx, rcancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
					defer rcancel()
					resp, err := s.world.Insert(rctx, lane.ID(in.Lane), in.Pos, lane.Item{ID: in.ItemID, Kind: in.Kind})
					ack(ackFor(in.RequestID, resp.Tick, resp.Item.ID, err))
				}()
			case protocol.TypeTake:
				var tk protocol.TakeMsg
				_ = json.Unmarshal(msg, &tk)
				go func() {
					rctx, rcancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
					defer rcancel()
					resp, err := s.world.Take(rctx, lane.ID(tk.Lane))
					ack(ackFor(tk.RequestID, resp.Tick, resp.Item.ID, err))
				}()
			default:
				ack(protocol.AckMsg{Code: protocol.ErrBadRequest, Message: "unexpected " + base.Type})
			}
		}

		cancel()
		if s.log != nil {
			s.log.Printf("observer %s left", sid)
		}
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func ackFor(requestID string, tick uint64, itemID string, err error) protocol.AckMsg {
	a := protocol.AckMsg{RequestID: requestID, Tick: tick, OK: err == nil, ItemID: itemID}
	if err != nil {
		a.Code = world.ErrorCode(err)
		a.Message = err.Error()
		a.ItemID = ""
	}
	return a
}

func laneIDs(in []string) []lane.ID {
	if len(in) == 0 {
		return nil
	}
	out := make([]lane.ID, 0, len(in))
	for _, s := range in {
		out = append(out, lane.ID(s))
	}
	return out
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
