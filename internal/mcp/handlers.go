package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/chatgate/internal/audit"
	"github.com/ppiankov/chatgate/internal/ban"
	"github.com/ppiankov/chatgate/internal/fingerprint"
)

// DefaultAuditLimit caps chatgate_audit results when no limit is given.
const DefaultAuditLimit = 50

// --- Input/Output types ---

// LookupInput defines parameters for the chatgate_lookup tool.
type LookupInput struct {
	Address     string `json:"address,omitempty" jsonschema:"raw client address"`
	Fingerprint string `json:"fingerprint,omitempty" jsonschema:"64-character hex client fingerprint"`
}

// LookupOutput is the stored state of one client.
type LookupOutput struct {
	Fingerprint string      `json:"fingerprint"`
	Banned      bool        `json:"banned"`
	BanReason   string      `json:"ban_reason,omitempty"`
	BannedAt    string      `json:"banned_at,omitempty"`
	Evidence    []string    `json:"evidence,omitempty"`
	Session     *SessionOut `json:"session,omitempty"`
	Degraded    bool        `json:"degraded,omitempty"`
}

// SessionOut describes a tracked session record.
type SessionOut struct {
	LastRequest string   `json:"last_request"`
	SessionIDs  []string `json:"session_ids"`
	CreatedAt   string   `json:"created_at"`
}

// BansInput is empty, no parameters needed.
type BansInput struct{}

// BansOutput lists all bans.
type BansOutput struct {
	Bans     []BanItem `json:"bans"`
	Degraded bool      `json:"degraded,omitempty"`
}

// BanItem describes a single ban.
type BanItem struct {
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason"`
	BannedAt    string `json:"banned_at"`
}

// UnbanInput defines parameters for the chatgate_unban tool.
type UnbanInput struct {
	Fingerprint string `json:"fingerprint" jsonschema:"fingerprint to unban"`
}

// UnbanOutput confirms the removal.
type UnbanOutput struct {
	Fingerprint string `json:"fingerprint"`
	Removed     bool   `json:"removed"`
}

// AuditInput defines parameters for the chatgate_audit tool.
type AuditInput struct {
	Fingerprint string `json:"fingerprint,omitempty" jsonschema:"only entries for this fingerprint"`
	Decision    string `json:"decision,omitempty" jsonschema:"allow, ban, cooldown or error"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum entries to return (default 50)"`
}

// --- Handlers ---

func (s *Server) handleLookup(ctx context.Context, req *mcpsdk.CallToolRequest, input LookupInput) (*mcpsdk.CallToolResult, LookupOutput, error) {
	var fp fingerprint.Fingerprint
	switch {
	case input.Fingerprint != "":
		fp = fingerprint.Fingerprint(input.Fingerprint)
		if !fingerprint.Valid(fp) {
			return nil, LookupOutput{}, fmt.Errorf("malformed fingerprint %q", input.Fingerprint)
		}
	case input.Address != "":
		fp = fingerprint.Hash(input.Address)
	default:
		return nil, LookupOutput{}, errors.New("address or fingerprint is required")
	}

	snap := s.engine.Inspect(ctx, fp)
	out := LookupOutput{
		Fingerprint: string(snap.Fingerprint),
		Degraded:    snap.Degraded,
	}
	if snap.Ban != nil {
		out.Banned = true
		out.BanReason = snap.Ban.Reason
		out.BannedAt = snap.Ban.BannedAt.UTC().Format(time.RFC3339)
		for _, e := range snap.Ban.Evidence {
			out.Evidence = append(out.Evidence, e.Message)
		}
	}
	if snap.Session != nil {
		out.Session = &SessionOut{
			LastRequest: time.UnixMilli(snap.Session.LastRequest).UTC().Format(time.RFC3339),
			SessionIDs:  snap.Session.SessionIDs,
			CreatedAt:   time.UnixMilli(snap.Session.CreatedAt).UTC().Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

func (s *Server) handleBans(ctx context.Context, req *mcpsdk.CallToolRequest, input BansInput) (*mcpsdk.CallToolResult, BansOutput, error) {
	bans, st := s.engine.Bans().List(ctx)
	out := BansOutput{Bans: []BanItem{}, Degraded: st.Degraded()}
	for _, fp := range bans.Sorted() {
		out.Bans = append(out.Bans, banItem(fp, bans))
	}
	return nil, out, nil
}

func banItem(fp fingerprint.Fingerprint, bans ban.Bans) BanItem {
	e := bans[fp]
	return BanItem{
		Fingerprint: string(fp),
		Reason:      e.Reason,
		BannedAt:    e.BannedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleUnban(ctx context.Context, req *mcpsdk.CallToolRequest, input UnbanInput) (*mcpsdk.CallToolResult, UnbanOutput, error) {
	fp := fingerprint.Fingerprint(input.Fingerprint)
	if !fingerprint.Valid(fp) {
		return nil, UnbanOutput{}, fmt.Errorf("malformed fingerprint %q", input.Fingerprint)
	}
	removed, err := s.engine.Bans().Remove(ctx, fp)
	if err != nil {
		return nil, UnbanOutput{}, err
	}
	if removed {
		s.logger.Info("ban lifted", "fingerprint", fp.Short(), "via", "mcp")
	}
	return nil, UnbanOutput{Fingerprint: string(fp), Removed: removed}, nil
}

func (s *Server) handleAudit(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditInput) (*mcpsdk.CallToolResult, audit.Result, error) {
	if s.auditLogPath == "" {
		return nil, audit.Result{}, errors.New("audit log not configured")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	res, err := audit.Query(s.auditLogPath, audit.Filter{
		Fingerprint: input.Fingerprint,
		Decision:    input.Decision,
		Limit:       limit,
	})
	if err != nil {
		return nil, audit.Result{}, err
	}
	if res.Entries == nil {
		res.Entries = []audit.Entry{}
	}
	return nil, *res, nil
}
