package triage

import (
	"context"

	"junkfilter/internal/domain/mail"
)

// MailProvider is the narrow mail-provider surface the pipeline needs,
// scoped to the junk folder. Delete must treat an already-deleted
// message as success, not as an error.
type MailProvider interface {
	ListJunk(ctx context.Context, max int64) ([]string, error)
	FetchSummary(ctx context.Context, messageID string) (mail.Summary, error)
	Delete(ctx context.Context, messageID string) error
}

// Classifier returns one delete/keep decision per input message,
// keyed by message id. An error covers the whole batch.
type Classifier interface {
	Classify(ctx context.Context, batch []mail.Summary) ([]mail.Decision, error)
}

// RecordStore is the durable idempotency guard. Record must be
// add-if-absent for terminal outcomes: two invocations racing on the
// same message id converge on one terminal record.
type RecordStore interface {
	TerminalOutcomes(ctx context.Context, messageIDs []string) (map[string]mail.Outcome, error)
	Record(ctx context.Context, messageID string, outcome mail.Outcome) error
}
