package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"beltline.ai/internal/sim/world"
	"beltline.ai/internal/transport/observer"
)

type muxOptions struct {
	EnableAdmin bool
	EnablePprof bool
}

func newMux(w *world.World, idx runtimeIndex, obs *observer.Server, opts muxOptions, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, idx, obs)
	})

	if obs != nil {
		mux.HandleFunc("/v1/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/v1/observe", obs.WSHandler())
	}

	if opts.EnableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			resp := struct {
				WorldID string             `json:"world_id"`
				RunID   string             `json:"run_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
				Index   any                `json:"index,omitempty"`
			}{
				WorldID: w.ID(),
				RunID:   w.RunID(),
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			if idx != nil {
				resp.Index = idx.Stats()
			}
			writeJSON(rw, http.StatusOK, resp)
		}))
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			tick, err := w.RequestSnapshot(ctx2)
			if err != nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
		})
		mux.HandleFunc("/admin/v1/transfers", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if idx == nil {
				http.Error(rw, "index disabled", http.StatusNotFound)
				return
			}
			laneID := strings.TrimSpace(r.URL.Query().Get("lane"))
			if laneID == "" {
				http.Error(rw, "missing lane", http.StatusBadRequest)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			rows, err := idx.Transfers(r.Context(), laneID, limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"lane": laneID, "transfers": rows})
		}))
		mux.HandleFunc("/admin/v1/items/", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if idx == nil {
				http.Error(rw, "index disabled", http.StatusNotFound)
				return
			}
			itemID := strings.TrimPrefix(r.URL.Path, "/admin/v1/items/")
			if itemID == "" {
				http.Error(rw, "missing item id", http.StatusBadRequest)
				return
			}
			rows, err := idx.ItemTrail(r.Context(), itemID)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"item_id": itemID, "trail": rows})
		}))
	} else if logger != nil {
		logger.Printf("admin endpoints disabled (BELT_ENABLE_ADMIN_HTTP=false)")
	}

	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else if logger != nil {
		logger.Printf("pprof endpoints disabled (BELT_ENABLE_PPROF_HTTP=false)")
	}
	return mux
}

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(rw http.ResponseWriter, w *world.World, idx runtimeIndex, obs *observer.Server) {
	id := w.ID()
	m := w.Metrics()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	fmt.Fprintf(rw, "# HELP beltline_world_tick Next tick to simulate.\n")
	fmt.Fprintf(rw, "# TYPE beltline_world_tick gauge\n")
	fmt.Fprintf(rw, "beltline_world_tick{world=%q} %d\n", id, tick)

	fmt.Fprintf(rw, "# HELP beltline_world_lanes Registered lane count.\n")
	fmt.Fprintf(rw, "# TYPE beltline_world_lanes gauge\n")
	fmt.Fprintf(rw, "beltline_world_lanes{world=%q} %d\n", id, m.Lanes)

	fmt.Fprintf(rw, "# HELP beltline_world_items Items currently on lanes.\n")
	fmt.Fprintf(rw, "# TYPE beltline_world_items gauge\n")
	fmt.Fprintf(rw, "beltline_world_items{world=%q} %d\n", id, m.Items)

	fmt.Fprintf(rw, "# HELP beltline_world_backpressured_lanes Connected lanes holding their lead at the exit.\n")
	fmt.Fprintf(rw, "# TYPE beltline_world_backpressured_lanes gauge\n")
	fmt.Fprintf(rw, "beltline_world_backpressured_lanes{world=%q} %d\n", id, m.Backpressured)

	fmt.Fprintf(rw, "# HELP beltline_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE beltline_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "beltline_world_queue_depth{world=%q,queue=%q} %d\n", id, "insert", m.QueueDepths.Insert)
	fmt.Fprintf(rw, "beltline_world_queue_depth{world=%q,queue=%q} %d\n", id, "take", m.QueueDepths.Take)
	fmt.Fprintf(rw, "beltline_world_queue_depth{world=%q,queue=%q} %d\n", id, "admin", m.QueueDepths.Admin)

	fmt.Fprintf(rw, "# HELP beltline_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE beltline_world_step_ms gauge\n")
	fmt.Fprintf(rw, "beltline_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

	fmt.Fprintf(rw, "# HELP beltline_items_total Item events since the world started.\n")
	fmt.Fprintf(rw, "# TYPE beltline_items_total counter\n")
	fmt.Fprintf(rw, "beltline_items_total{world=%q,event=%q} %d\n", id, "inserted", m.InsertedTotal)
	fmt.Fprintf(rw, "beltline_items_total{world=%q,event=%q} %d\n", id, "taken", m.TakenTotal)
	fmt.Fprintf(rw, "beltline_items_total{world=%q,event=%q} %d\n", id, "transferred", m.TransfersTotal)
	fmt.Fprintf(rw, "beltline_items_total{world=%q,event=%q} %d\n", id, "refused", m.RefusedTotal)
	fmt.Fprintf(rw, "beltline_items_total{world=%q,event=%q} %d\n", id, "consumed", m.ConsumedTotal)

	fmt.Fprintf(rw, "# HELP beltline_observer_sessions Open observer websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE beltline_observer_sessions gauge\n")
	sessions := m.Observers
	if obs != nil {
		sessions = obs.Sessions()
	}
	fmt.Fprintf(rw, "beltline_observer_sessions{world=%q} %d\n", id, sessions)

	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP beltline_index_queue_depth Current index write queue depth.\n")
	fmt.Fprintf(rw, "# TYPE beltline_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "beltline_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP beltline_index_queue_capacity Index write queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE beltline_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "beltline_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP beltline_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE beltline_index_dropped_total counter\n")
	fmt.Fprintf(rw, "beltline_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "beltline_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
	fmt.Fprintf(rw, "beltline_index_dropped_total{kind=%q} %d\n", "lane_state", s.DropLaneTotal)
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
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
