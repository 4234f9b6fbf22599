// Package gate decides, per chat request, whether a client is admitted,
// throttled, or permanently banned.
//
// The engine is the only writer of the ban and session registries on the
// request path. Checks for the same fingerprint are serialized in-process
// by an injected keyed lock. The timing and token decision itself runs
// inside the backend's atomic update of the session registry, so engines
// in separate processes sharing one SQLite or Redis store see each other's
// admissions.
package gate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/chatgate/internal/ban"
	"github.com/ppiankov/chatgate/internal/fingerprint"
	"github.com/ppiankov/chatgate/internal/keylock"
	"github.com/ppiankov/chatgate/internal/recordstore"
	"github.com/ppiankov/chatgate/internal/session"
)

// Locker serializes work per key.
type Locker interface {
	Lock(key string) (unlock func())
}

// Engine is the admission decision engine.
type Engine struct {
	bans     *ban.Registry
	sessions *session.Tracker
	locks    Locker
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger for decision diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLocker replaces the in-process keyed lock.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locks = l }
}

// New creates an Engine whose registries live in backend.
func New(backend recordstore.Backend, opts ...Option) *Engine {
	e := &Engine{
		locks:  keylock.New(),
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bans = ban.NewRegistry(backend).WithClock(e.now)
	e.sessions = session.NewTracker(backend)
	return e
}

// Decide runs the admission check for one request. Denials are verdicts;
// an error is returned only when state that had to be persisted could not be.
func (e *Engine) Decide(ctx context.Context, rawAddress, sessionToken string) (Verdict, error) {
	fp := fingerprint.Hash(rawAddress)
	unlock := e.locks.Lock(string(fp))
	defer unlock()

	now := e.now()
	v := Verdict{Fingerprint: fp}
	log := e.logger.With("fingerprint", fp.Short())

	entry, st := e.bans.Lookup(ctx, fp)
	e.noteDegraded(&v, log, ban.Document, st)
	if entry != nil {
		v.Reason = ReasonBan
		v.BanReason = entry.Reason
		v.Message = MsgBannedPrefix + entry.Reason
		log.Info("request denied", "reason", v.Reason, "ban_reason", entry.Reason)
		return v, nil
	}

	var (
		out     outcome
		rec     session.Record
		elapsed time.Duration
	)
	st, err := e.sessions.Apply(ctx, fp, now, func(r *session.Record) bool {
		elapsed = r.Elapsed(now)
		out = judge(r, now, sessionToken)
		rec = *r
		return out == outcomeAllow
	})
	e.noteDegraded(&v, log, session.Document, st)
	if err != nil {
		log.Error("session write failed", "error", err)
		return Verdict{Fingerprint: fp}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	switch out {
	case outcomeBurst:
		evidence := []ban.Evidence{{Type: "error", Message: "Banned for rapid requests"}}
		return e.escalate(ctx, v, log, BanReasonBurst, evidence, MsgSpamming, "elapsed", elapsed)
	case outcomeCooldown:
		v.Reason = ReasonCooldown
		v.Message = MsgCooldown
		log.Info("request throttled", "elapsed", elapsed)
		return v, nil
	case outcomeHopping:
		evidence := []ban.Evidence{{
			Type:    "error",
			Message: "Banned for using multiple session IDs: " + strings.Join(rec.SessionIDs, ", "),
		}}
		return e.escalate(ctx, v, log, BanReasonHopping, evidence, MsgHopping, "tokens", len(rec.SessionIDs))
	}

	v.Allowed = true
	log.Debug("request allowed", "tokens", len(rec.SessionIDs))
	return v, nil
}

type outcome int

const (
	outcomeAllow outcome = iota
	outcomeBurst
	outcomeCooldown
	outcomeHopping
)

// judge classifies a request against the stored record. On admission the
// token and request time are recorded in rec; other outcomes leave the
// stored record as it was.
func judge(rec *session.Record, now time.Time, token string) outcome {
	elapsed := rec.Elapsed(now)
	if rec.Seen() && elapsed < BurstWindow {
		return outcomeBurst
	}
	if rec.Seen() && elapsed < CooldownWindow {
		return outcomeCooldown
	}
	if !rec.HasToken(token) {
		rec.SessionIDs = append(rec.SessionIDs, token)
		if len(rec.SessionIDs) > MaxSessionTokens {
			return outcomeHopping
		}
	}
	rec.LastRequest = now.UnixMilli()
	return outcomeAllow
}

// escalate writes a ban and returns the ban verdict. The ban is durable
// before the verdict is returned; a failed write is an error.
func (e *Engine) escalate(ctx context.Context, v Verdict, log *slog.Logger, reason string, evidence []ban.Evidence, msg string, attrs ...any) (Verdict, error) {
	if _, err := e.bans.Ban(ctx, v.Fingerprint, reason, evidence); err != nil {
		log.Error("ban write failed", "ban_reason", reason, "error", err)
		return Verdict{Fingerprint: v.Fingerprint}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	v.Reason = ReasonBan
	v.BanReason = reason
	v.Message = msg
	v.Escalated = true
	log.Warn("fingerprint banned", append([]any{"ban_reason", reason}, attrs...)...)
	return v, nil
}

func (e *Engine) noteDegraded(v *Verdict, log *slog.Logger, doc string, st recordstore.Status) {
	if !st.Degraded() {
		return
	}
	v.Degraded = true
	if v.DegradedCause == "" {
		v.DegradedCause = st.Err.Error()
	}
	log.Warn("registry unreadable, treating as empty", "document", doc, "error", st.Err)
}

// Bans exposes the ban registry for read-only listings.
func (e *Engine) Bans() *ban.Registry {
	return e.bans
}

// Sessions exposes the session tracker for read-only listings.
func (e *Engine) Sessions() *session.Tracker {
	return e.sessions
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}
