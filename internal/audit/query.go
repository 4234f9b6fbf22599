package audit

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
)

// Filter holds criteria for Query. Empty fields match everything.
type Filter struct {
	Fingerprint string
	Decision    string
	From        time.Time
	To          time.Time
	// Limit keeps only the last N matching entries when > 0.
	Limit int
}

// Summary holds decision counts for a query result.
type Summary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	BanCount       int    `json:"ban_count"`
	CooldownCount  int    `json:"cooldown_count"`
	ErrorCount     int    `json:"error_count"`
	Escalations    int    `json:"escalations"`
	DegradedCount  int    `json:"degraded_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// Result holds matching entries and their summary.
type Result struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Query reads the audit log and returns entries matching filter.
// Malformed lines are skipped.
func Query(path string, filter Filter) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := sonic.ConfigStd.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if filter.match(entry) {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[len(entries)-filter.Limit:]
	}

	result := &Result{Entries: entries}
	for _, e := range entries {
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func (f Filter) match(e Entry) bool {
	if f.Fingerprint != "" && e.Fingerprint != f.Fingerprint {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *Summary, e Entry) {
	s.Total++
	switch e.Decision {
	case DecisionAllow:
		s.AllowCount++
	case DecisionBan:
		s.BanCount++
	case DecisionCooldown:
		s.CooldownCount++
	case DecisionError:
		s.ErrorCount++
	}
	if e.Escalated {
		s.Escalations++
	}
	if e.Degraded {
		s.DegradedCount++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
