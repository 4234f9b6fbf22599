package alert

// Event types dispatched by the gate.
const (
	EventBan             = "ban"
	EventCooldown        = "cooldown"
	EventStorageDegraded = "storage_degraded"
	EventStorageError    = "storage_error"
	// EventBinaryTamper is raised at startup when the running binary does
	// not match its recorded checksum.
	EventBinaryTamper = "binary_tamper"
)

// Target defines a webhook alert destination.
type Target struct {
	URL     string            `yaml:"url"     toml:"url"     json:"url"`
	Format  string            `yaml:"format"  toml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  toml:"events"  json:"events"` // ["ban", "storage_degraded"]
	Headers map[string]string `yaml:"headers" toml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp   string `json:"timestamp"`
	RequestID   string `json:"request_id"`
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
	// Escalated marks the request that created a ban.
	Escalated bool   `json:"escalated,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
