// Package ban is the permanent denial list keyed by client fingerprint.
//
// An entry, once written, denies every future request from that fingerprint.
// Entries never expire; only an operator removing them from the store
// (see Registry.Remove, used by the CLI) lifts a ban.
package ban

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/chatgate/internal/fingerprint"
	"github.com/ppiankov/chatgate/internal/recordstore"
)

// Document is the store document holding the registry.
const Document = "blacklist"

// Evidence is one diagnostic log line attached to a ban.
type Evidence struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Entry records why and when a fingerprint was banned.
type Entry struct {
	Reason   string     `json:"reason"`
	BannedAt time.Time  `json:"timestamp"`
	Evidence []Evidence `json:"logs"`
}

// Bans maps fingerprints to their ban entries.
type Bans map[fingerprint.Fingerprint]Entry

// Registry reads and writes the ban document.
type Registry struct {
	backend recordstore.Backend
	now     func() time.Time
}

// NewRegistry creates a Registry over backend.
func NewRegistry(backend recordstore.Backend) *Registry {
	return &Registry{backend: backend, now: time.Now}
}

// WithClock replaces the time source used to stamp new entries.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func newBans() Bans { return Bans{} }

// Lookup returns the entry for fp, or nil. A missing or corrupt document
// reads as an empty registry; the returned status says which.
func (r *Registry) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, recordstore.Status) {
	bans, st := r.List(ctx)
	e, ok := bans[fp]
	if !ok {
		return nil, st
	}
	return &e, st
}

// List returns the whole registry.
func (r *Registry) List(ctx context.Context) (Bans, recordstore.Status) {
	bans, st := recordstore.Load(ctx, r.backend, Document, newBans())
	if bans == nil {
		bans = newBans()
	}
	return bans, st
}

// Ban inserts or overwrites the entry for fp and persists the registry
// before returning. The entry is durable once Ban returns nil.
func (r *Registry) Ban(ctx context.Context, fp fingerprint.Fingerprint, reason string, evidence []Evidence) (Entry, error) {
	entry := Entry{
		Reason:   reason,
		BannedAt: r.now().UTC(),
		Evidence: evidence,
	}
	if entry.Evidence == nil {
		entry.Evidence = []Evidence{}
	}
	_, err := recordstore.Update(ctx, r.backend, Document, newBans, func(bans *Bans) error {
		if *bans == nil {
			*bans = newBans()
		}
		(*bans)[fp] = entry
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("persist ban for %s: %w", fp.Short(), err)
	}
	return entry, nil
}

// Remove deletes the entry for fp. It is an operator action and is not used
// on the admission path. Returns false if fp was not banned.
func (r *Registry) Remove(ctx context.Context, fp fingerprint.Fingerprint) (bool, error) {
	var removed bool
	_, err := recordstore.Update(ctx, r.backend, Document, newBans, func(bans *Bans) error {
		_, removed = (*bans)[fp]
		delete(*bans, fp)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove ban for %s: %w", fp.Short(), err)
	}
	return removed, nil
}

// Sorted returns the fingerprints of bans ordered by ban time, oldest first.
func (b Bans) Sorted() []fingerprint.Fingerprint {
	keys := make([]fingerprint.Fingerprint, 0, len(b))
	for fp := range b {
		keys = append(keys, fp)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := b[keys[i]].BannedAt, b[keys[j]].BannedAt
		if ti.Equal(tj) {
			return keys[i] < keys[j]
		}
		return ti.Before(tj)
	})
	return keys
}
