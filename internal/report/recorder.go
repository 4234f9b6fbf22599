// Package report turns admission verdicts into audit entries and webhook
// alerts.
package report

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/chatgate/internal/alert"
	"github.com/ppiankov/chatgate/internal/audit"
	"github.com/ppiankov/chatgate/internal/gate"
)

// Recorder fans one decision out to the audit log and alert targets.
// A nil audit log or dispatcher disables that sink.
type Recorder struct {
	auditLog *audit.Log
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.RWMutex
	alerts     *alert.Dispatcher
	configHash string
}

// NewRecorder creates a Recorder.
func NewRecorder(auditLog *audit.Log, alerts *alert.Dispatcher, configHash string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		auditLog:   auditLog,
		alerts:     alerts,
		configHash: configHash,
		logger:     logger,
		now:        time.Now,
	}
}

// SetAlerts swaps the alert dispatcher and config hash after a reload.
// Deliveries already in flight on the old dispatcher still complete.
func (r *Recorder) SetAlerts(alerts *alert.Dispatcher, configHash string) {
	r.mu.Lock()
	old := r.alerts
	r.alerts = alerts
	r.configHash = configHash
	r.mu.Unlock()
	go old.Wait()
}

func (r *Recorder) current() (*alert.Dispatcher, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alerts, r.configHash
}

// Record logs one decision. err is the error returned by gate.Engine.Decide.
func (r *Recorder) Record(requestID, sessionToken string, v gate.Verdict, err error) {
	alerts, hash := r.current()

	entry := audit.Entry{
		RequestID:   requestID,
		Fingerprint: string(v.Fingerprint),
		SessionID:   sessionToken,
		Decision:    v.Decision(),
		Reason:      v.BanReason,
		Message:     v.Message,
		Escalated:   v.Escalated,
		Degraded:    v.Degraded,
		ConfigHash:  hash,
	}
	if err != nil {
		entry.Decision = audit.DecisionError
		entry.Message = err.Error()
	}
	if r.auditLog != nil {
		if aerr := r.auditLog.Record(entry); aerr != nil {
			r.logger.Error("audit write failed", "request_id", requestID, "error", aerr)
		}
	}

	if alerts == nil {
		return
	}
	for _, ev := range Events(requestID, v, err, r.now()) {
		alerts.Dispatch(ev)
	}
}

// Events maps a decision to the alert events it raises.
func Events(requestID string, v gate.Verdict, err error, now time.Time) []alert.Event {
	base := alert.Event{
		Timestamp:   now.UTC().Format(audit.TimestampFormat),
		RequestID:   requestID,
		Fingerprint: string(v.Fingerprint),
	}
	if err != nil {
		ev := base
		ev.Type, ev.Detail = alert.EventStorageError, err.Error()
		return []alert.Event{ev}
	}

	var out []alert.Event
	if v.Degraded {
		ev := base
		ev.Type, ev.Detail = alert.EventStorageDegraded, v.DegradedCause
		out = append(out, ev)
	}
	switch v.Reason {
	case gate.ReasonBan:
		ev := base
		ev.Type, ev.Reason, ev.Message, ev.Escalated = alert.EventBan, v.BanReason, v.Message, v.Escalated
		out = append(out, ev)
	case gate.ReasonCooldown:
		ev := base
		ev.Type, ev.Message = alert.EventCooldown, v.Message
		out = append(out, ev)
	}
	return out
}

// Wait blocks until pending alert deliveries finish.
func (r *Recorder) Wait() {
	alerts, _ := r.current()
	alerts.Wait()
}

// Close waits for alerts and closes the audit log.
func (r *Recorder) Close() error {
	r.Wait()
	if r.auditLog != nil {
		return r.auditLog.Close()
	}
	return nil
}
