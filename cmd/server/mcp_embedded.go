package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"beltline.ai/internal/sim/world"
	"beltline.ai/internal/transport/mcp"
)

type embeddedMCPCfg struct {
	// Listen is the HTTP listen address for the embedded MCP server.
	// Set to empty to disable.
	Listen string

	World   *world.World
	Version string

	// HMACSecret overrides BELT_MCP_HMAC_SECRET.
	HMACSecret string
}

type embeddedMCP struct {
	httpSrv *http.Server
	ln      net.Listener

	closeOnce sync.Once
}

func (e *embeddedMCP) Addr() string {
	if e == nil || e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

func (e *embeddedMCP) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e.httpSrv != nil {
			_ = e.httpSrv.Shutdown(ctx)
		}
		if e.ln != nil {
			_ = e.ln.Close()
		}
	})
}

func startEmbeddedMCP(ctx context.Context, cfg embeddedMCPCfg, logger *log.Logger) (*embeddedMCP, error) {
	listen := strings.TrimSpace(cfg.Listen)
	if listen == "" {
		if logger != nil {
			logger.Printf("embedded MCP disabled (mcp_listen empty)")
		}
		return nil, nil
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[mcp] ", log.LstdFlags|log.Lmicroseconds)
	}

	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("BELT_MCP_HMAC_SECRET"))
	}
	requireHMAC := envBool("BELT_MCP_REQUIRE_HMAC", defaultRequireMCPHMAC())
	if requireHMAC && secret == "" {
		return nil, fmt.Errorf("[mcp] hmac secret required (set -mcp_hmac_secret or BELT_MCP_HMAC_SECRET)")
	}
	if secret == "" && !isLoopbackListenAddress(listen) {
		return nil, fmt.Errorf("[mcp] refusing insecure MCP listen on non-loopback address %q without hmac secret", listen)
	}

	authMode := "none(loopback-only)"
	if secret != "" {
		authMode = "hmac"
	}

	mcpSrv, err := mcp.NewServer(mcp.Config{
		Version:    cfg.Version,
		World:      cfg.World,
		HMACSecret: secret,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp server: %w", err)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("mcp listen: %w", err)
	}
	logger.Printf("embedded_mcp auth_mode=%s require_hmac=%t", authMode, requireHMAC)
	logger.Printf("embedded_mcp listening on http://%s", ln.Addr())

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mcpSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	em := &embeddedMCP{httpSrv: httpSrv, ln: ln}

	go func() {
		<-ctx.Done()
		em.Close()
	}()

	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Printf("embedded_mcp serve error: %v", err)
		}
	}()

	return em, nil
}

func defaultRequireMCPHMAC() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return true
	default:
		return false
	}
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
	hostLower := strings.ToLower(host)
	if hostLower == "localhost" {
		return true
	}
	ip := net.ParseIP(hostLower)
	return ip != nil && ip.IsLoopback()
}
