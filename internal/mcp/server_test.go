package mcp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/chatgate/internal/audit"
	"github.com/ppiankov/chatgate/internal/fingerprint"
	"github.com/ppiankov/chatgate/internal/gate"
	"github.com/ppiankov/chatgate/internal/recordstore"
)

func newTestServer(t *testing.T, auditPath string) *Server {
	t.Helper()
	t0 := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	engine := gate.New(recordstore.NewMemoryBackend(), gate.WithClock(func() time.Time { return t0 }))
	return New(Config{Engine: engine, AuditLogPath: auditPath, Version: "test"})
}

// banClient drives two same-instant requests, which is a burst ban.
func banClient(t *testing.T, s *Server, addr string) fingerprint.Fingerprint {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.engine.Decide(ctx, addr, "s1"); err != nil {
			t.Fatalf("Decide: %v", err)
		}
	}
	return fingerprint.Hash(addr)
}

func TestLookupByAddress(t *testing.T) {
	s := newTestServer(t, "")
	banClient(t, s, "10.0.0.1")

	_, out, err := s.handleLookup(context.Background(), &mcpsdk.CallToolRequest{}, LookupInput{Address: "10.0.0.1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Banned {
		t.Fatal("expected banned")
	}
	if out.BanReason != gate.BanReasonBurst {
		t.Errorf("unexpected ban reason %q", out.BanReason)
	}
	if out.Session == nil || len(out.Session.SessionIDs) != 1 {
		t.Errorf("expected session with one token, got %+v", out.Session)
	}
}

func TestLookupByFingerprintDoesNotCount(t *testing.T) {
	s := newTestServer(t, "")
	fp := fingerprint.Hash("10.0.0.2")

	for i := 0; i < 3; i++ {
		_, out, err := s.handleLookup(context.Background(), &mcpsdk.CallToolRequest{}, LookupInput{Fingerprint: string(fp)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Banned || out.Session != nil {
			t.Fatalf("lookup must not create state, got %+v", out)
		}
	}
}

func TestLookupRequiresInput(t *testing.T) {
	s := newTestServer(t, "")
	if _, _, err := s.handleLookup(context.Background(), &mcpsdk.CallToolRequest{}, LookupInput{}); err == nil {
		t.Error("expected error for empty input")
	}
	if _, _, err := s.handleLookup(context.Background(), &mcpsdk.CallToolRequest{}, LookupInput{Fingerprint: "abc"}); err == nil {
		t.Error("expected error for malformed fingerprint")
	}
}

func TestBansAndUnban(t *testing.T) {
	s := newTestServer(t, "")
	ctx := context.Background()
	fp := banClient(t, s, "10.0.0.3")

	_, list, err := s.handleBans(ctx, &mcpsdk.CallToolRequest{}, BansInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Bans) != 1 || list.Bans[0].Fingerprint != string(fp) {
		t.Fatalf("expected one ban for %s, got %+v", fp.Short(), list.Bans)
	}

	_, out, err := s.handleUnban(ctx, &mcpsdk.CallToolRequest{}, UnbanInput{Fingerprint: string(fp)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Removed {
		t.Error("expected removed")
	}

	_, list, _ = s.handleBans(ctx, &mcpsdk.CallToolRequest{}, BansInput{})
	if len(list.Bans) != 0 {
		t.Errorf("expected no bans, got %d", len(list.Bans))
	}

	_, out, err = s.handleUnban(ctx, &mcpsdk.CallToolRequest{}, UnbanInput{Fingerprint: string(fp)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Removed {
		t.Error("second unban should report nothing removed")
	}
}

func TestUnbanRejectsMalformed(t *testing.T) {
	s := newTestServer(t, "")
	if _, _, err := s.handleUnban(context.Background(), &mcpsdk.CallToolRequest{}, UnbanInput{Fingerprint: "10.0.0.1"}); err == nil {
		t.Error("expected error for raw address")
	}
}

func TestAuditQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, d := range []string{audit.DecisionAllow, audit.DecisionCooldown, audit.DecisionAllow} {
		if err := log.Record(audit.Entry{
			Timestamp:   "2026-10-19T09:00:00.000Z",
			Fingerprint: string(fingerprint.Hash("10.0.0.4")),
			Decision:    d,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	log.Close()

	s := newTestServer(t, path)
	_, res, err := s.handleAudit(context.Background(), &mcpsdk.CallToolRequest{}, AuditInput{Decision: audit.DecisionAllow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary.Total != 2 || res.Summary.AllowCount != 2 {
		t.Errorf("expected 2 allow entries, got %+v", res.Summary)
	}
}

func TestAuditNotConfigured(t *testing.T) {
	s := newTestServer(t, "")
	if _, _, err := s.handleAudit(context.Background(), &mcpsdk.CallToolRequest{}, AuditInput{}); err == nil {
		t.Error("expected error without audit log")
	}
}
