package mcp

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func signedRequest(secret []byte, ts time.Time, nonce string, body []byte) *http.Request {
	tsStr := strconv.FormatInt(ts.UnixMilli(), 10)
	req, _ := http.NewRequest("POST", "http://example.invalid/mcp", bytes.NewReader(body))
	req.Header.Set(headerClientID, "client_1")
	req.Header.Set(headerTS, tsStr)
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerSignature, signHMAC(secret, canonicalString(tsStr, "POST", "/mcp", "client_1", nonce, body)))
	return req
}

func TestHMAC_SignAndVerify(t *testing.T) {
	secret := []byte("topsecret")
	now := time.UnixMilli(1700000000000)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	vr := verifyHMAC(signedRequest(secret, now, "n1", body), body, secret, now)
	if vr.HTTPStatus != 0 {
		t.Fatalf("expected ok, got status=%d msg=%s", vr.HTTPStatus, vr.Message)
	}
	if vr.ClientID != "client_1" {
		t.Fatalf("client id mismatch: %q", vr.ClientID)
	}

	tampered := []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if vr := verifyHMAC(signedRequest(secret, now, "n1", body), tampered, secret, now); vr.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("tampered body accepted")
	}
}

func TestHMAC_Verify_Expired(t *testing.T) {
	secret := []byte("topsecret")
	now := time.UnixMilli(1700000000000)
	body := []byte(`{"jsonrpc":"2.0"}`)
	vr := verifyHMAC(signedRequest(secret, now, "n1", body), body, secret, now.Add(301*time.Second))
	if vr.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", vr.HTTPStatus)
	}
}

func TestHMAC_MissingNonce(t *testing.T) {
	secret := []byte("topsecret")
	now := time.UnixMilli(1700000000000)
	req := signedRequest(secret, now, "n1", nil)
	req.Header.Del(headerNonce)
	if vr := verifyHMAC(req, nil, secret, now); vr.Message != "missing x-nonce" {
		t.Fatalf("message = %q", vr.Message)
	}
}

func TestReplayGuard_RejectsRepeat(t *testing.T) {
	g := newReplayGuard(time.Minute)
	now := time.UnixMilli(1700000000000)
	if !g.allow("c", "sig", now) {
		t.Fatalf("first use rejected")
	}
	if g.allow("c", "sig", now.Add(time.Second)) {
		t.Fatalf("replay accepted")
	}
	if !g.allow("other", "sig", now) {
		t.Fatalf("different client rejected")
	}
	if !g.allow("c", "sig", now.Add(2*time.Minute)) {
		t.Fatalf("expired entry still rejected")
	}
}

func TestHandler_Auth(t *testing.T) {
	s, _ := setupTestServer(t, true)
	s.hmacSecret = []byte("topsecret")
	s.guard = newReplayGuard(time.Minute)
	now := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return now }
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/mcp", bytes.NewReader([]byte("{}"))))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d", rec.Code)
	}

	body := []byte(`{"jsonrpc":"2.0"}`)
	first := httptest.NewRecorder()
	h.ServeHTTP(first, signedRequest(s.hmacSecret, now, "n1", body))
	if first.Code == http.StatusUnauthorized {
		t.Fatalf("signed request rejected: %s", first.Body.String())
	}
	replay := httptest.NewRecorder()
	h.ServeHTTP(replay, signedRequest(s.hmacSecret, now, "n1", body))
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("replayed request status = %d", replay.Code)
	}

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest("GET", "/healthz", nil))
	if health.Code != 200 {
		t.Fatalf("healthz = %d", health.Code)
	}
}

func TestHandler_LoopbackOnlyWithoutSecret(t *testing.T) {
	s, _ := setupTestServer(t, true)
	req := httptest.NewRequest("POST", "/mcp", bytes.NewReader([]byte("{}")))
	req.RemoteAddr = "203.0.113.5:4000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}
