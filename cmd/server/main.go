package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"beltline.ai/internal/persistence/archive"
	persistlog "beltline.ai/internal/persistence/log"
	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/layout"
	"beltline.ai/internal/sim/tuning"
	"beltline.ai/internal/sim/world"
	"beltline.ai/internal/transport/observer"
)

var version = "dev"

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "", "world id (default: the layout's world_id)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to layout.yaml (default: <configs>/layout.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (ticks + transfers + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		mcpListen     = flag.String("mcp_listen", "127.0.0.1:8090", "embedded MCP http listen address (empty to disable)")
		mcpHMACSecret = flag.String("mcp_hmac_secret", "", "embedded MCP hmac secret (or set BELT_MCP_HMAC_SECRET)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	lp := strings.TrimSpace(*layoutPath)
	if lp == "" {
		lp = filepath.Join(*configDir, "layout.yaml")
	}

	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	lay, err := layout.LoadWithDefaultLength(lp, tune.DefaultLaneLength)
	if err != nil {
		logger.Fatalf("load layout: %v", err)
	}
	id := strings.TrimSpace(*worldID)
	if id == "" {
		id = lay.WorldID
	}
	if id == "" {
		id = "world_1"
	}

	worldDir := filepath.Join(*dataDir, "worlds", id)
	_ = os.MkdirAll(worldDir, 0o755)

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig("tuning", tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(worldDir)
	}

	cfg := world.WorldConfig{
		ID:                 id,
		TickRateHz:         tune.TickRateHz,
		Workers:            tune.Workers,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
	}
	var w *world.World
	if snapshotToLoad != "" {
		w, err = resumeWorld(cfg, snapshotToLoad)
		if err != nil {
			logger.Fatalf("resume: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	} else {
		w, err = lay.NewWorld(cfg)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		logger.Printf("fresh world=%s lanes=%d items=%d", id, len(lay.Lanes), lay.ItemCount())
	}

	ctx, cancel := signalContext()
	defer cancel()

	embeddedMCP, err := startEmbeddedMCP(ctx, embeddedMCPCfg{
		Listen:     strings.TrimSpace(*mcpListen),
		World:      w,
		Version:    version,
		HMACSecret: strings.TrimSpace(*mcpHMACSecret),
	}, logger)
	if err != nil {
		logger.Fatalf("embedded mcp: %v", err)
	}
	defer func() {
		if embeddedMCP != nil {
			embeddedMCP.Close()
		}
	}()

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	if idx != nil {
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	} else {
		w.SetTickLogger(tickLog)
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go writeSnapshots(ctx, worldDir, snapCh, idx, uint64(tune.ArchiveEveryTicks), logger)

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	obsSrv := observer.NewServer(w, logger, observer.Options{
		MaxSessions: tune.Observer.MaxSessions,
		FrameBuffer: tune.Observer.FrameBuffer,
	})
	mux := newMux(w, idx, obsSrv, muxOptions{
		EnableAdmin: envBool("BELT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("BELT_ENABLE_PPROF_HTTP", false),
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// resumeWorld rebuilds a world from a snapshot file. The snapshot's lanes and
// belts replace the layout; its tick rate wins over tuning.
func resumeWorld(cfg world.WorldConfig, path string) (*world.World, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return nil, err
	}
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

func writeSnapshots(ctx context.Context, worldDir string, snapCh <-chan snapshot.SnapshotV1, idx runtimeIndex, archiveEvery uint64, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapCh:
			path := snapshot.Path(worldDir, snap.Header.Tick)
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
				idx.RecordSnapshotState(snap)
			}
			if n, archived, ok, err := archive.ArchiveCheckpoint(worldDir, path, snap, archiveEvery); err != nil {
				logger.Printf("archive checkpoint: %v", err)
			} else if ok {
				logger.Printf("archived checkpoint=%d tick=%d path=%s", n, snap.Header.Tick, archived)
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}
