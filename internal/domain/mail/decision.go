package mail

// Decision is the per-message verdict for one classified batch.
// Ephemeral: produced by the classifier, consumed immediately.
type Decision struct {
	MessageID string
	Delete    bool
	Rationale string
}
