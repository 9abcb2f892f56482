package llm

import (
	"strings"

	"junkfilter/internal/domain/mail"
)

// Rules is the hard safety floor applied over model verdicts. The
// always-keep sender allowlist outranks the always-delete pattern
// denylist, which outranks the model.
type Rules struct {
	KeepSenders    []string // substring match on the sender address
	DeletePatterns []string // substring match on sender or subject
}

// Apply returns the final decision for one message.
func (r Rules) Apply(s mail.Summary, d mail.Decision) mail.Decision {
	sender := strings.ToLower(s.Sender)
	subject := strings.ToLower(s.Subject)

	for _, keep := range r.KeepSenders {
		if keep == "" {
			continue
		}
		if strings.Contains(sender, strings.ToLower(keep)) {
			return mail.Decision{MessageID: d.MessageID, Delete: false, Rationale: "allowlisted sender"}
		}
	}

	for _, pattern := range r.DeletePatterns {
		if pattern == "" {
			continue
		}
		p := strings.ToLower(pattern)
		if strings.Contains(sender, p) || strings.Contains(subject, p) {
			return mail.Decision{MessageID: d.MessageID, Delete: true, Rationale: "denylisted pattern: " + pattern}
		}
	}

	return d
}
