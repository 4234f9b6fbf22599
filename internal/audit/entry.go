package audit

// Decisions recorded in the log. The first three mirror gate verdicts.
const (
	DecisionAllow    = "allow"
	DecisionBan      = "ban"
	DecisionCooldown = "cooldown"
	DecisionError    = "error"
)

// Entry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// field order for reproducible hashing.
type Entry struct {
	Timestamp   string `json:"ts"`
	RequestID   string `json:"request_id"`
	Fingerprint string `json:"fingerprint"`
	SessionID   string `json:"session_id"`
	Decision    string `json:"decision"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
	Escalated   bool   `json:"escalated,omitempty"`
	Degraded    bool   `json:"degraded,omitempty"`
	ConfigHash  string `json:"config_hash"`
	PrevHash    string `json:"prev_hash"`
}
