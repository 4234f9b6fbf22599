package gate

import (
	"errors"
	"time"

	"github.com/ppiankov/chatgate/internal/fingerprint"
)

// Reason classifies a denial.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonBan      Reason = "ban"
	ReasonCooldown Reason = "cooldown"
)

// Policy constants. They are fixed by design and not configurable.
const (
	// BurstWindow: a follow-up faster than this is treated as automation
	// and banned permanently.
	BurstWindow = 1000 * time.Millisecond
	// CooldownWindow: a follow-up faster than this is throttled.
	CooldownWindow = 5000 * time.Millisecond
	// MaxSessionTokens is the number of distinct session tokens one
	// fingerprint may present.
	MaxSessionTokens = 3
)

// Ban reasons stored in the registry.
const (
	BanReasonBurst   = "Rate Limit Exceeded (>1 req/s)"
	BanReasonHopping = "Session Hopping Abuse"
)

// Messages returned to the caller.
const (
	MsgBannedPrefix = "Access denied. Reason: "
	MsgSpamming     = "You have been banned for spamming."
	MsgCooldown     = "Please wait 5 seconds between messages."
	MsgHopping      = "Security Check Failed: Session abuse detected."
)

// ErrStorage wraps write failures. A decision that needed to persist state
// and could not is reported as an error, never as Allowed.
var ErrStorage = errors.New("gate: storage write failed")

// Verdict is the outcome of one admission check.
type Verdict struct {
	Allowed bool
	Reason  Reason
	Message string

	Fingerprint fingerprint.Fingerprint
	// Escalated is set when this very request created the ban.
	Escalated bool
	// BanReason is the stored reason when Reason is ReasonBan.
	BanReason string
	// Degraded is set when a registry could not be read and was treated as
	// empty; protection may have been reset.
	Degraded      bool
	DegradedCause string
}

// Decision returns "allow" or the denial reason, for logs and wire formats.
func (v Verdict) Decision() string {
	if v.Allowed {
		return "allow"
	}
	return string(v.Reason)
}
