// Package mcp exposes a lane world to MCP clients as a small set of tools.
package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"beltline.ai/internal/sim/world"
)

type Config struct {
	Name    string
	Version string
	World   *world.World

	// Manual worlds advance only through the step tool. The caller must not
	// run World.Run concurrently.
	Manual bool

	// HMACSecret enables signed requests on the HTTP transport. Without it
	// the HTTP transport accepts loopback clients only.
	HMACSecret string

	// RequestTimeout bounds how long insert_item and take_item wait for a live tick.
	RequestTimeout time.Duration

	Logger *log.Logger
}

type Server struct {
	server *sdk.Server
	world  *world.World
	manual bool

	hmacSecret []byte
	guard      *replayGuard
	timeout    time.Duration
	now        func() time.Time
	log        *log.Logger

	mu      sync.Mutex
	inserts []world.InsertRequest
	takes   []world.TakeRequest
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.World == nil {
		return nil, fmt.Errorf("nil world")
	}
	if cfg.Name == "" {
		cfg.Name = "beltline"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, &sdk.ServerOptions{}),
		world:   cfg.World,
		manual:  cfg.Manual,
		timeout: cfg.RequestTimeout,
		now:     time.Now,
		log:     cfg.Logger,
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
		s.guard = newReplayGuard(10 * time.Minute)
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Handler serves MCP over streamable HTTP at /mcp.
func (s *Server) Handler() http.Handler {
	mcpHandler := sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return s.server }, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/mcp", s.authenticate(mcpHandler))
	return mux
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if len(s.hmacSecret) == 0 {
			if err := requireLoopback(r); err != nil {
				http.Error(rw, err.Error(), http.StatusForbidden)
				return
			}
			next.ServeHTTP(rw, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
		if err != nil {
			http.Error(rw, "bad body", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		vr := verifyHMAC(r, body, s.hmacSecret, s.now())
		if vr.HTTPStatus != 0 {
			http.Error(rw, vr.Message, vr.HTTPStatus)
			return
		}
		if !s.guard.allow(vr.ClientID, vr.Signature, s.now()) {
			http.Error(rw, "replayed request", http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(rw, r)
	})
}
