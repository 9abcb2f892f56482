package mail

import "time"

// Outcome is the processing status of a message id.
type Outcome string

const (
	OutcomeKept    Outcome = "kept"
	OutcomeDeleted Outcome = "deleted"
	OutcomePending Outcome = "pending"
)

// Terminal reports whether the outcome forbids reprocessing. Pending
// records stay eligible for the next invocation.
func (o Outcome) Terminal() bool {
	return o == OutcomeKept || o == OutcomeDeleted
}

func (o Outcome) String() string {
	return string(o)
}

// ProcessedRecord is the idempotency guard against duplicate
// notification delivery: once a message id carries a terminal outcome
// it is never reclassified and never deleted twice.
type ProcessedRecord struct {
	MessageID   string
	Outcome     Outcome
	ProcessedAt time.Time
}
