package triage

import (
	"context"
	"errors"
	"fmt"
	"log"

	"junkfilter/internal/application/credential"
	"junkfilter/internal/domain/mail"
)

// ErrClassificationUnavailable marks a batch whose verdicts could not
// be obtained. The pipeline fails closed: every message in the batch
// is kept and stays eligible for the next invocation.
var ErrClassificationUnavailable = errors.New("classification unavailable")

const (
	defaultBatchSize = 20
	defaultListLimit = 20
)

// Result summarizes one invocation. Partial failures are collected
// here for observability instead of aborting the run.
type Result struct {
	Candidates    int
	Skipped       int // already terminal
	Deleted       int
	Kept          int
	Retrying      int // classification failed, fail-closed keep
	FetchFailures []string
	DeleteFailed  map[string]string // message id -> provider error
}

func (r Result) String() string {
	return fmt.Sprintf("candidates=%d skipped=%d deleted=%d kept=%d retrying=%d delete_failures=%d",
		r.Candidates, r.Skipped, r.Deleted, r.Kept, r.Retrying, len(r.DeleteFailed))
}

// Processor runs the shared triage pipeline for both ingress paths:
// dedup against processed records, fetch summaries, classify in
// batches, apply deletions, record terminal outcomes. A terminal
// record is only written after the delete call returns, so a killed
// invocation re-processes the message instead of losing it.
type Processor struct {
	provider  MailProvider
	classify  Classifier
	records   RecordStore
	batchSize int
	listLimit int64
}

func NewProcessor(provider MailProvider, classifier Classifier, records RecordStore) *Processor {
	return &Processor{
		provider:  provider,
		classify:  classifier,
		records:   records,
		batchSize: defaultBatchSize,
		listLimit: defaultListLimit,
	}
}

// WithBatchSize bounds messages per classification call.
func (p *Processor) WithBatchSize(n int) *Processor {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

// WithListLimit bounds how many junk messages a poll tick considers.
func (p *Processor) WithListLimit(n int64) *Processor {
	if n > 0 {
		p.listLimit = n
	}
	return p
}

// ProcessTick is the scheduled-poll entry point: list current junk
// message ids and run the pipeline over them.
func (p *Processor) ProcessTick(ctx context.Context) (Result, error) {
	ids, err := p.provider.ListJunk(ctx, p.listLimit)
	if err != nil {
		return Result{}, fmt.Errorf("list junk folder: %w", err)
	}
	return p.Process(ctx, ids)
}

// ProcessRecent runs the pipeline over the most recent junk messages.
// Used by the webhook ingress when a notification names no message ids.
func (p *Processor) ProcessRecent(ctx context.Context, max int64) (Result, error) {
	ids, err := p.provider.ListJunk(ctx, max)
	if err != nil {
		return Result{}, fmt.Errorf("list junk folder: %w", err)
	}
	return p.Process(ctx, ids)
}

// Process runs the pipeline over a set of candidate message ids. Only
// credential.ErrAuthenticationRequired escalates to a failed
// invocation; every other failure degrades per message or per batch.
func (p *Processor) Process(ctx context.Context, candidateIDs []string) (Result, error) {
	res := Result{
		Candidates:   len(candidateIDs),
		DeleteFailed: make(map[string]string),
	}
	if len(candidateIDs) == 0 {
		return res, nil
	}

	fresh, err := p.filterProcessed(ctx, candidateIDs, &res)
	if err != nil {
		return res, err
	}
	if len(fresh) == 0 {
		return res, nil
	}

	summaries, err := p.fetchSummaries(ctx, fresh, &res)
	if err != nil {
		return res, err
	}

	for start := 0; start < len(summaries); start += p.batchSize {
		end := min(start+p.batchSize, len(summaries))
		if err := p.processBatch(ctx, summaries[start:end], &res); err != nil {
			return res, err
		}
	}

	log.Printf("Triage done: %s", res)
	return res, nil
}

func (p *Processor) filterProcessed(ctx context.Context, ids []string, res *Result) ([]string, error) {
	done, err := p.records.TerminalOutcomes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check processed records: %w", err)
	}

	fresh := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := done[id]; ok {
			res.Skipped++
			continue
		}
		fresh = append(fresh, id)
	}
	return fresh, nil
}

func (p *Processor) fetchSummaries(ctx context.Context, ids []string, res *Result) ([]mail.Summary, error) {
	summaries := make([]mail.Summary, 0, len(ids))
	for _, id := range ids {
		summary, err := p.provider.FetchSummary(ctx, id)
		if err != nil {
			if errors.Is(err, credential.ErrAuthenticationRequired) {
				return nil, err
			}
			// Left unrecorded: retried next invocation.
			log.Printf("Fetch failed for %s: %v", id, err)
			res.FetchFailures = append(res.FetchFailures, id)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (p *Processor) processBatch(ctx context.Context, batch []mail.Summary, res *Result) error {
	decisions, err := p.classify.Classify(ctx, batch)
	if err != nil {
		if errors.Is(err, credential.ErrAuthenticationRequired) {
			return err
		}
		// Fail closed on the delete action: keep everything in the
		// batch, mark pending so the next invocation retries. One
		// failing batch never blocks the others.
		log.Printf("Classification failed for batch of %d: %v", len(batch), err)
		for _, s := range batch {
			if recErr := p.records.Record(ctx, s.ID, mail.OutcomePending); recErr != nil {
				log.Printf("Record pending failed for %s: %v", s.ID, recErr)
			}
			res.Retrying++
		}
		return nil
	}

	verdicts := make(map[string]mail.Decision, len(decisions))
	for _, d := range decisions {
		verdicts[d.MessageID] = d
	}

	for _, s := range batch {
		d, ok := verdicts[s.ID]
		if !ok {
			// Missing verdict is treated like a failed batch member.
			log.Printf("No verdict for %s, keeping for retry", s.ID)
			if err := p.records.Record(ctx, s.ID, mail.OutcomePending); err != nil {
				log.Printf("Record pending failed for %s: %v", s.ID, err)
			}
			res.Retrying++
			continue
		}
		if err := p.apply(ctx, s, d, res); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) apply(ctx context.Context, s mail.Summary, d mail.Decision, res *Result) error {
	if !d.Delete {
		if err := p.records.Record(ctx, s.ID, mail.OutcomeKept); err != nil {
			return fmt.Errorf("record kept %s: %w", s.ID, err)
		}
		res.Kept++
		return nil
	}

	log.Printf("DELETE %s from=%q subject=%q reason=%q", s.ID, s.Sender, s.Subject, d.Rationale)

	if err := p.provider.Delete(ctx, s.ID); err != nil {
		if errors.Is(err, credential.ErrAuthenticationRequired) {
			return err
		}
		// Not recorded: stays eligible for retry next invocation.
		log.Printf("Delete failed for %s: %v", s.ID, err)
		res.DeleteFailed[s.ID] = err.Error()
		return nil
	}

	if err := p.records.Record(ctx, s.ID, mail.OutcomeDeleted); err != nil {
		return fmt.Errorf("record deleted %s: %w", s.ID, err)
	}
	res.Deleted++
	return nil
}
