package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/chatgate/internal/alert"
	"github.com/ppiankov/chatgate/internal/audit"
	"github.com/ppiankov/chatgate/internal/ban"
	"github.com/ppiankov/chatgate/internal/gate"
	"github.com/ppiankov/chatgate/internal/recordstore"
	"github.com/ppiankov/chatgate/internal/report"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	srv      *Server
	recorder *report.Recorder
	front    *httptest.Server
	clock    *testClock
	backend  recordstore.Backend
	upstream *atomic.Int32
	auditLog string
}

func jsonBackend(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"response": "echo: " + body["message"].(string),
			"fields":   len(body),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnv(t *testing.T, upstream string, targets []alert.Target) *testEnv {
	t.Helper()
	b := recordstore.NewMemoryBackend()
	clock := &testClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	engine := gate.New(b, gate.WithClock(clock.Now))

	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	rec := report.NewRecorder(auditLog, alert.NewDispatcher(targets, nil), "sha256:test", nil)

	cfg := Config{
		ChatPath:           "/api/chat",
		Upstream:           upstream,
		UpstreamTimeout:    2 * time.Second,
		TrustForwarded:     true,
		PlaceholderAddress: "127.0.0.1",
	}
	srv, err := NewServer(cfg, engine, rec)
	if err != nil {
		t.Fatalf("failed to create proxy: %v", err)
	}
	front := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		front.Close()
		rec.Close()
	})
	return &testEnv{srv: srv, recorder: rec, front: front, clock: clock, backend: b, auditLog: auditPath}
}

func (e *testEnv) chat(t *testing.T, ip, session, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, e.front.URL+"/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var parsed map[string]any
	data, _ := io.ReadAll(resp.Body)
	json.Unmarshal(data, &parsed)
	return resp, parsed
}

func TestAllowedRequestIsForwarded(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	env := newTestEnv(t, up.URL+"/api/chat", nil)

	resp, body := env.chat(t, "10.0.0.1", "s1", `{"message":"hi","extra":"dropped"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["response"] != "echo: hi" {
		t.Errorf("unexpected body %v", body)
	}
	if body["fields"] != float64(1) {
		t.Errorf("expected only the message to be forwarded, got %v fields", body["fields"])
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 backend call, got %d", calls.Load())
	}
}

func TestMissingMessageIs400(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	env := newTestEnv(t, up.URL, nil)

	for _, body := range []string{`{}`, `not json`, `{"message":""}`} {
		resp, parsed := env.chat(t, "10.0.0.1", "s1", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, resp.StatusCode)
		}
		if parsed["error"] != "Missing message body" {
			t.Errorf("%s: unexpected body %v", body, parsed)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("backend must not be reached, got %d calls", calls.Load())
	}
}

func TestCooldownIs429(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	env := newTestEnv(t, up.URL, nil)

	env.chat(t, "10.0.0.1", "s1", `{"message":"one"}`)
	env.clock.Advance(2 * time.Second)
	resp, body := env.chat(t, "10.0.0.1", "s1", `{"message":"two"}`)

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "5" {
		t.Errorf("expected Retry-After 5, got %q", resp.Header.Get("Retry-After"))
	}
	if body["reason"] != "cooldown" || body["error"] != gate.MsgCooldown || body["success"] != false {
		t.Errorf("unexpected body %v", body)
	}
	if calls.Load() != 1 {
		t.Errorf("expected only the first request to reach the backend, got %d", calls.Load())
	}
}

func TestBurstIs403AndPersists(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	env := newTestEnv(t, up.URL, nil)

	env.chat(t, "10.0.0.1", "s1", `{"message":"one"}`)
	env.clock.Advance(200 * time.Millisecond)
	resp, body := env.chat(t, "10.0.0.1", "s1", `{"message":"two"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if body["error"] != gate.MsgSpamming || body["reason"] != "ban" {
		t.Errorf("unexpected body %v", body)
	}
	logs, _ := body["logs"].([]any)
	if len(logs) != 1 {
		t.Errorf("expected one log line, got %v", body["logs"])
	}

	env.clock.Advance(time.Hour)
	resp, body = env.chat(t, "10.0.0.1", "s1", `{"message":"three"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected ban to persist, got %d", resp.StatusCode)
	}
	if body["error"] != gate.MsgBannedPrefix+gate.BanReasonBurst {
		t.Errorf("unexpected body %v", body)
	}
}

func TestSessionFromBody(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	env := newTestEnv(t, up.URL, nil)

	for _, s := range []string{"a", "b", "c"} {
		resp, _ := env.chat(t, "10.0.0.1", "", `{"message":"m","sessionId":"`+s+`"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("session %s: expected 200, got %d", s, resp.StatusCode)
		}
		env.clock.Advance(6 * time.Second)
	}
	resp, body := env.chat(t, "10.0.0.1", "", `{"message":"m","sessionId":"d"}`)
	if resp.StatusCode != http.StatusForbidden || body["error"] != gate.MsgHopping {
		t.Errorf("expected hopping ban, got %d %v", resp.StatusCode, body)
	}
}

func TestNonJSONUpstreamIs502(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>oops</html>"))
	}))
	defer up.Close()
	env := newTestEnv(t, up.URL, nil)

	resp, body := env.chat(t, "10.0.0.1", "s1", `{"message":"hi"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if body["success"] != false || !strings.Contains(body["response"].(string), "Connection error") {
		t.Errorf("unexpected body %v", body)
	}
}

func TestUpstreamTimeoutIs504(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer up.Close()
	env := newTestEnv(t, up.URL, nil)
	if err := env.srv.Reload(Config{Upstream: up.URL, UpstreamTimeout: 100 * time.Millisecond, TrustForwarded: true}); err != nil {
		t.Fatal(err)
	}

	resp, _ := env.chat(t, "10.0.0.1", "s1", `{"message":"hi"}`)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

type brokenBackend struct {
	recordstore.Backend
}

func (brokenBackend) Update(context.Context, string, func([]byte) ([]byte, error)) error {
	return io.ErrClosedPipe
}

func TestStorageFailureIs503(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	engine := gate.New(brokenBackend{recordstore.NewMemoryBackend()})
	srv, err := NewServer(Config{Upstream: up.URL}, engine, nil)
	if err != nil {
		t.Fatal(err)
	}
	front := httptest.NewServer(srv.Handler())
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if calls.Load() != 0 {
		t.Error("backend must not be reached when the gate cannot persist")
	}
}

func TestWrongMethodRejected(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	env := newTestEnv(t, up.URL, nil)

	resp, err := http.Get(env.front.URL + "/api/chat")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	env := newTestEnv(t, up.URL, nil)

	resp, err := http.Get(env.front.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	env.backend.Write(context.Background(), ban.Document, []byte("garbage"))
	resp, err = http.Get(env.front.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on corrupt registry, got %d", resp.StatusCode)
	}
}

func TestAuditRecordsVerdicts(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)
	env := newTestEnv(t, up.URL, nil)

	env.chat(t, "10.0.0.1", "s1", `{"message":"one"}`)
	env.clock.Advance(3 * time.Second)
	env.chat(t, "10.0.0.1", "s1", `{"message":"two"}`)
	env.clock.Advance(3 * time.Second)
	env.chat(t, "10.0.0.1", "s1", `{"message":"three"}`)
	env.recorder.Close()

	if res := audit.Verify(env.auditLog); !res.Valid || res.Lines != 3 {
		t.Fatalf("expected valid 3-line chain, got %+v", res)
	}
	result, err := audit.Query(env.auditLog, audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	got := []string{}
	for _, e := range result.Entries {
		got = append(got, e.Decision)
	}
	if strings.Join(got, ",") != "allow,cooldown,allow" {
		t.Errorf("unexpected decisions %v", got)
	}
	if result.Entries[0].ConfigHash != "sha256:test" || result.Entries[0].SessionID != "s1" {
		t.Errorf("unexpected entry %+v", result.Entries[0])
	}
}

func TestBanFiresAlert(t *testing.T) {
	var calls atomic.Int32
	up := jsonBackend(t, &calls)

	var mu sync.Mutex
	var events []alert.Event
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev alert.Event
		json.NewDecoder(r.Body).Decode(&ev)
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	defer hook.Close()

	env := newTestEnv(t, up.URL, []alert.Target{{URL: hook.URL, Events: []string{alert.EventBan}}})
	env.chat(t, "10.0.0.1", "s1", `{"message":"one"}`)
	env.clock.Advance(100 * time.Millisecond)
	env.chat(t, "10.0.0.1", "s1", `{"message":"two"}`)
	env.recorder.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(events))
	}
	if events[0].Reason != gate.BanReasonBurst || !events[0].Escalated {
		t.Errorf("unexpected alert %+v", events[0])
	}
}

func TestReloadSwapsUpstream(t *testing.T) {
	var first, second atomic.Int32
	up1 := jsonBackend(t, &first)
	up2 := jsonBackend(t, &second)
	env := newTestEnv(t, up1.URL, nil)

	env.chat(t, "10.0.0.1", "s1", `{"message":"one"}`)
	if err := env.srv.Reload(Config{Upstream: up2.URL, TrustForwarded: true}); err != nil {
		t.Fatal(err)
	}
	env.chat(t, "10.0.0.2", "s1", `{"message":"two"}`)

	if first.Load() != 1 || second.Load() != 1 {
		t.Errorf("expected one call per upstream, got %d and %d", first.Load(), second.Load())
	}
	if err := env.srv.Reload(Config{Upstream: "not a url"}); err == nil {
		t.Error("expected invalid upstream to be rejected")
	}
}

func TestClientAddress(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		trust   bool
		want    string
	}{
		{"xff first entry", map[string]string{"X-Forwarded-For": " 1.2.3.4 , 5.6.7.8"}, "9.9.9.9:1", true, "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "4.3.2.1"}, "9.9.9.9:1", true, "4.3.2.1"},
		{"placeholder", nil, "9.9.9.9:1", true, "127.0.0.1"},
		{"empty xff falls through", map[string]string{"X-Forwarded-For": " , 1.1.1.1"}, "9.9.9.9:1", true, "127.0.0.1"},
		{"peer when untrusted", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "9.9.9.9:1234", false, "9.9.9.9"},
		{"bad peer when untrusted", nil, "garbage", false, "127.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(nil))
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := ClientAddress(r, tc.trust, "127.0.0.1"); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsJSON(t *testing.T) {
	for ct, want := range map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"application/problem+json":        true,
		"text/html":                       false,
		"":                                false,
	} {
		if got := isJSON(ct); got != want {
			t.Errorf("isJSON(%q) = %v, want %v", ct, got, want)
		}
	}
}
