package gate

import (
	"context"

	"github.com/ppiankov/chatgate/internal/ban"
	"github.com/ppiankov/chatgate/internal/fingerprint"
	"github.com/ppiankov/chatgate/internal/session"
)

// Snapshot is the stored state of one fingerprint.
type Snapshot struct {
	Fingerprint   fingerprint.Fingerprint
	Ban           *ban.Entry
	Session       *session.Record
	Degraded      bool
	DegradedCause string
}

// Inspect returns the ban and session state for fp without mutating
// anything. Expired session records are reported as absent.
func (e *Engine) Inspect(ctx context.Context, fp fingerprint.Fingerprint) Snapshot {
	snap := Snapshot{Fingerprint: fp}

	entry, bst := e.bans.Lookup(ctx, fp)
	snap.Ban = entry

	reg, sst := e.sessions.Load(ctx, e.now())
	if rec, ok := reg[fp]; ok {
		snap.Session = &rec
	}

	if st := bst.Merge(sst); st.Degraded() {
		snap.Degraded = true
		snap.DegradedCause = st.Err.Error()
	}
	return snap
}

// InspectAddress fingerprints rawAddress and inspects it.
func (e *Engine) InspectAddress(ctx context.Context, rawAddress string) Snapshot {
	return e.Inspect(ctx, fingerprint.Hash(rawAddress))
}
