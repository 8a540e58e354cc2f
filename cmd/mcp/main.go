package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/layout"
	"beltline.ai/internal/sim/tuning"
	"beltline.ai/internal/sim/world"
	"beltline.ai/internal/transport/mcp"
)

var version = "dev"

func main() {
	var (
		layoutPath = flag.String("layout", "./configs/layout.yaml", "path to layout.yaml")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (optional)")
		snapPath   = flag.String("snapshot", "", "resume from this snapshot instead of the layout")
		listen     = flag.String("listen", "", "serve MCP over HTTP on this address and run the world live (default: stdio, stepped by the step tool)")
		hmacSecret = flag.String("hmac-secret", "", "hmac secret (or set BELT_MCP_HMAC_SECRET)")
	)
	flag.Parse()

	// stdout carries the stdio transport.
	logger := log.New(os.Stderr, "[mcp] ", log.LstdFlags|log.Lmicroseconds)

	tune := tuning.Defaults()
	if tp := strings.TrimSpace(*tuningPath); tp != "" {
		t, err := tuning.Load(tp)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = t
	}

	w, err := buildWorld(*layoutPath, *snapPath, tune)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	addr := strings.TrimSpace(*listen)
	if addr == "" {
		srv, err := mcp.NewServer(mcp.Config{Version: version, World: w, Manual: true, Logger: logger})
		if err != nil {
			logger.Fatalf("mcp: %v", err)
		}
		logger.Printf("stdio world=%s tick=%d lanes=%d", w.ID(), w.CurrentTick(), len(w.LaneIDs()))
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Fatalf("stdio: %v", err)
		}
		return
	}

	if strings.TrimSpace(*hmacSecret) == "" {
		*hmacSecret = strings.TrimSpace(os.Getenv("BELT_MCP_HMAC_SECRET"))
	}
	requireHMAC := envBoolWithDefault("BELT_MCP_REQUIRE_HMAC", defaultRequireMCPHMAC())
	if requireHMAC && *hmacSecret == "" {
		logger.Fatalf("hmac secret required (set -hmac-secret or BELT_MCP_HMAC_SECRET)")
	}
	if *hmacSecret == "" && !isLoopbackListenAddress(addr) {
		logger.Fatalf("refusing insecure MCP bind on non-loopback address %q without hmac secret", addr)
	}
	authMode := "none(loopback-only)"
	if *hmacSecret != "" {
		authMode = "hmac"
	}
	logger.Printf("auth_mode=%s require_hmac=%t", authMode, requireHMAC)

	srv, err := mcp.NewServer(mcp.Config{Version: version, World: w, HMACSecret: *hmacSecret, Logger: logger})
	if err != nil {
		logger.Fatalf("mcp: %v", err)
	}

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on http://%s world=%s", addr, w.ID())
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("listen: %v", err)
	}
}

func buildWorld(layoutPath, snapPath string, tune tuning.Tuning) (*world.World, error) {
	cfg := world.WorldConfig{
		TickRateHz:         tune.TickRateHz,
		Workers:            tune.Workers,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
	}
	if sp := strings.TrimSpace(snapPath); sp != "" {
		snap, err := snapshot.ReadSnapshot(sp)
		if err != nil {
			return nil, err
		}
		cfg.ID = snap.Header.WorldID
		if snap.TickRate > 0 {
			cfg.TickRateHz = snap.TickRate
		}
		specs, belts, err := world.SpecsFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		w, err := world.New(cfg, specs, belts)
		if err != nil {
			return nil, err
		}
		if err := w.ImportSnapshot(snap); err != nil {
			return nil, err
		}
		return w, nil
	}
	lay, err := layout.LoadWithDefaultLength(layoutPath, tune.DefaultLaneLength)
	if err != nil {
		return nil, err
	}
	return lay.NewWorld(cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultRequireMCPHMAC() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return true
	default:
		return false
	}
}

func envBoolWithDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func isLoopbackListenAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = strings.TrimSpace(h)
	}
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
