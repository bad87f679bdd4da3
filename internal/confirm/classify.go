package confirm

import (
	"strings"
	"time"

	"github.com/lalithlochan/medreminder/internal/reminder"
)

// DefaultResendThreshold is how long a sent reminder waits for confirmation
// before it becomes a resend candidate.
const DefaultResendThreshold = 30 * time.Minute

// confirmationTokens is the fixed reply vocabulary. Matching is exact or
// token followed by a space, never substring.
var confirmationTokens = []string{
	"done",
	"yes",
	"ok",
	"okay",
	"taken",
	"took it",
	"given",
	"gave it",
	"confirmed",
	"✅",
	"✔️",
	"✔",
	"👍",
	"👌",
}

// ClassifyInboundText reports whether a chat reply acknowledges a dose.
func ClassifyInboundText(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	for _, token := range confirmationTokens {
		if normalized == token || strings.HasPrefix(normalized, token+" ") {
			return true
		}
	}
	return false
}

// ResendCandidates returns the pending reminders that were sent more than
// threshold ago. Reminders that were never sent are excluded.
func ResendCandidates(pending []reminder.Reminder, threshold time.Duration, now time.Time) []reminder.Reminder {
	var out []reminder.Reminder
	for _, r := range pending {
		if r.SentAt == nil {
			continue
		}
		if now.Sub(*r.SentAt) > threshold {
			out = append(out, r)
		}
	}
	return out
}
