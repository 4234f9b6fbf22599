package client

import (
	"context"
	"net"
	"testing"
	"time"

	admissionv1 "github.com/ppiankov/chatgate/api/admission/v1"
	"github.com/ppiankov/chatgate/internal/gate"
	"github.com/ppiankov/chatgate/internal/recordstore"
	"github.com/ppiankov/chatgate/internal/server"
)

// startTestServer creates a server + returns its address.
func startTestServer(t *testing.T, now func() time.Time) (string, func()) {
	t.Helper()

	engine := gate.New(recordstore.NewMemoryBackend(), gate.WithClock(now))
	srv := server.New(server.Config{}, engine, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.ServeOn(lis)

	return lis.Addr().String(), srv.GracefulStop
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestClientDecideAllowed(t *testing.T) {
	addr, cleanup := startTestServer(t, fixedClock())
	defer cleanup()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	resp, err := c.Decide(context.Background(), "10.0.0.1", "s1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !resp.Allowed {
		t.Errorf("expected allowed, got %+v", resp)
	}
}

func TestClientDecideBanned(t *testing.T) {
	addr, cleanup := startTestServer(t, fixedClock())
	defer cleanup()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, err := c.Decide(ctx, "10.0.0.1", "s1"); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	// Same instant: elapsed is zero, which is a burst.
	resp, err := c.Decide(ctx, "10.0.0.1", "s1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if resp.Allowed || resp.Reason != string(gate.ReasonBan) {
		t.Fatalf("expected ban, got %+v", resp)
	}

	info, err := c.Lookup(ctx, admissionv1.LookupRequest{Address: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !info.Banned || info.BanReason != gate.BanReasonBurst {
		t.Errorf("expected burst ban in lookup, got %+v", info)
	}
}

func TestClientFailClosed(t *testing.T) {
	// Connect to a port that doesn't have a server
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	resp, err := c.Decide(context.Background(), "10.0.0.1", "s1")
	if err != nil {
		t.Fatalf("Decide returned error (should not): %v", err)
	}
	if resp.Allowed {
		t.Error("expected denial (fail-closed)")
	}
	if resp.Reason != ReasonUnreachable {
		t.Errorf("expected %q reason, got %q", ReasonUnreachable, resp.Reason)
	}
}

func TestClientLookupUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, err := c.Lookup(context.Background(), admissionv1.LookupRequest{Address: "10.0.0.1"}); err == nil {
		t.Error("expected error from unreachable server")
	}
}
