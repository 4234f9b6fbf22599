package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a Result as a human-readable text timeline.
func FormatTimeline(result *Result) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s – %s UTC\n",
		formatDateTime(result.Summary.FirstTimestamp),
		formatDateTime(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		var tags []string
		if e.Escalated {
			tags = append(tags, "[escalated]")
		}
		if e.Degraded {
			tags = append(tags, "[degraded]")
		}
		detail := e.Reason
		if detail == "" {
			detail = e.Message
		}
		fmt.Fprintf(&b, "%-10s %-9s %-12s %-40s %s\n",
			formatTimeOnly(e.Timestamp),
			strings.ToUpper(e.Decision),
			shortFingerprint(e.Fingerprint),
			truncate(detail, 40),
			strings.Join(tags, " "))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a Result as indented JSON.
func FormatJSON(result *Result) (string, error) {
	data, err := sonic.ConfigStd.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit result: %w", err)
	}
	return string(data), nil
}

func formatDateTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s Summary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.CooldownCount > 0 {
		parts = append(parts, fmt.Sprintf("%d cooldown", s.CooldownCount))
	}
	if s.BanCount > 0 {
		parts = append(parts, fmt.Sprintf("%d ban", s.BanCount))
	}
	if s.ErrorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d error", s.ErrorCount))
	}
	return fmt.Sprintf("Summary: %s | Escalations: %d | Degraded: %d\n",
		strings.Join(parts, ", "), s.Escalations, s.DegradedCount)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
