package alert

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return sonic.Marshal(event)
	}
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Fingerprint:* %s", shortFingerprint(event.Fingerprint))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Request:* %s", event.RequestID)},
	}
	if event.Reason != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)})
	}
	if event.Detail != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:* %s", event.Detail)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("chatgate: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return sonic.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("chatgate %s: %s", event.Type, shortFingerprint(event.Fingerprint)),
			"severity": severityFor(event.Type),
			"source":   "chatgate",
			"custom_details": map[string]any{
				"fingerprint": event.Fingerprint,
				"reason":      event.Reason,
				"message":     event.Message,
				"detail":      event.Detail,
				"request_id":  event.RequestID,
			},
		},
	}
	return sonic.Marshal(payload)
}

func severityFor(eventType string) string {
	switch eventType {
	case EventStorageError, EventBinaryTamper:
		return "critical"
	case EventStorageDegraded:
		return "error"
	case EventBan:
		return "warning"
	default:
		return "info"
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
