// Package session tracks per-fingerprint request timing and the set of
// client session tokens seen from each fingerprint.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ppiankov/chatgate/internal/fingerprint"
	"github.com/ppiankov/chatgate/internal/recordstore"
)

// Document is the store document holding the registry.
const Document = "sessions"

// Retention is how long a record lives after its creation.
const Retention = 7 * 24 * time.Hour

// Record is the activity state of one fingerprint. Times are Unix
// milliseconds; LastRequest is 0 until the first admitted request.
type Record struct {
	LastRequest int64    `json:"lastRequest"`
	SessionIDs  []string `json:"sessionIds"`
	CreatedAt   int64    `json:"createdAt"`
}

// NewRecord returns the record of a first-seen fingerprint.
func NewRecord(now time.Time) Record {
	return Record{
		LastRequest: 0,
		SessionIDs:  []string{},
		CreatedAt:   now.UnixMilli(),
	}
}

// Seen reports whether the fingerprint has an admitted request on record.
func (r Record) Seen() bool {
	return r.LastRequest != 0
}

// Elapsed returns the time since the last admitted request.
func (r Record) Elapsed(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-r.LastRequest) * time.Millisecond
}

// HasToken reports whether token was already observed.
func (r Record) HasToken(token string) bool {
	return slices.Contains(r.SessionIDs, token)
}

// Expired reports whether the record is older than the retention window.
func (r Record) Expired(now time.Time) bool {
	return now.UnixMilli()-r.CreatedAt > Retention.Milliseconds()
}

// Registry maps fingerprints to their records.
type Registry map[fingerprint.Fingerprint]Record

func newRegistry() Registry { return Registry{} }

// Prune removes every record older than Retention and returns how many
// were dropped.
func Prune(reg Registry, now time.Time) int {
	removed := 0
	for fp, rec := range reg {
		if rec.Expired(now) {
			delete(reg, fp)
			removed++
		}
	}
	return removed
}

// Tracker loads and stores the session registry. Expired records are purged
// on every read and every write rather than on a timer.
type Tracker struct {
	backend recordstore.Backend
}

// NewTracker creates a Tracker over backend.
func NewTracker(backend recordstore.Backend) *Tracker {
	return &Tracker{backend: backend}
}

// Load returns the pruned registry.
func (t *Tracker) Load(ctx context.Context, now time.Time) (Registry, recordstore.Status) {
	reg, st := recordstore.Load(ctx, t.backend, Document, newRegistry())
	if reg == nil {
		reg = newRegistry()
	}
	Prune(reg, now)
	return reg, st
}

// Get returns the stored record for fp or a fresh one.
func (t *Tracker) Get(ctx context.Context, fp fingerprint.Fingerprint, now time.Time) (Record, recordstore.Status) {
	reg, st := t.Load(ctx, now)
	rec, ok := reg[fp]
	if !ok {
		return NewRecord(now), st
	}
	if rec.SessionIDs == nil {
		rec.SessionIDs = []string{}
	}
	return rec, st
}

// Put stores rec under fp. The registry is re-read, pruned, and rewritten
// as a whole in one atomic update so concurrent writers for other
// fingerprints are not lost.
func (t *Tracker) Put(ctx context.Context, fp fingerprint.Fingerprint, rec Record, now time.Time) error {
	_, err := recordstore.Update(ctx, t.backend, Document, newRegistry, func(reg *Registry) error {
		if *reg == nil {
			*reg = newRegistry()
		}
		Prune(*reg, now)
		(*reg)[fp] = rec
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist session for %s: %w", fp.Short(), err)
	}
	return nil
}

// errUnchanged aborts an update without writing the registry.
var errUnchanged = errors.New("session: record unchanged")

// Apply hands fn the current record for fp inside one atomic update of the
// registry and writes it back only when fn returns true. fn may run more
// than once when the backend retries on conflict, so it must decide from
// the record it is given and nothing else.
func (t *Tracker) Apply(ctx context.Context, fp fingerprint.Fingerprint, now time.Time, fn func(rec *Record) bool) (recordstore.Status, error) {
	st, err := recordstore.Update(ctx, t.backend, Document, newRegistry, func(reg *Registry) error {
		if *reg == nil {
			*reg = newRegistry()
		}
		Prune(*reg, now)
		rec, ok := (*reg)[fp]
		if !ok {
			rec = NewRecord(now)
		} else if rec.SessionIDs == nil {
			rec.SessionIDs = []string{}
		}
		if !fn(&rec) {
			return errUnchanged
		}
		(*reg)[fp] = rec
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("persist session for %s: %w", fp.Short(), err)
	}
	return st, nil
}

// Purge rewrites the registry without expired records and returns how many
// were removed.
func (t *Tracker) Purge(ctx context.Context, now time.Time) (int, error) {
	var removed int
	_, err := recordstore.Update(ctx, t.backend, Document, newRegistry, func(reg *Registry) error {
		removed = Prune(*reg, now)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return removed, nil
}

// Sorted returns fingerprints ordered by most recent activity first.
func (reg Registry) Sorted() []fingerprint.Fingerprint {
	keys := make([]fingerprint.Fingerprint, 0, len(reg))
	for fp := range reg {
		keys = append(keys, fp)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := reg[keys[i]].LastRequest, reg[keys[j]].LastRequest
		if li == lj {
			return keys[i] < keys[j]
		}
		return li > lj
	})
	return keys
}
