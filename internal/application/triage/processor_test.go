package triage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"junkfilter/internal/application/credential"
	"junkfilter/internal/domain/mail"
)

type fakeProvider struct {
	junk        []string
	summaries   map[string]mail.Summary
	fetchErr    map[string]error
	deleteErr   map[string]error
	deleteCalls map[string]int
}

func newFakeProvider(summaries ...mail.Summary) *fakeProvider {
	p := &fakeProvider{
		summaries:   make(map[string]mail.Summary),
		fetchErr:    make(map[string]error),
		deleteErr:   make(map[string]error),
		deleteCalls: make(map[string]int),
	}
	for _, s := range summaries {
		p.junk = append(p.junk, s.ID)
		p.summaries[s.ID] = s
	}
	return p
}

func (p *fakeProvider) ListJunk(_ context.Context, max int64) ([]string, error) {
	if int64(len(p.junk)) <= max {
		return p.junk, nil
	}
	return p.junk[:max], nil
}

func (p *fakeProvider) FetchSummary(_ context.Context, id string) (mail.Summary, error) {
	if err := p.fetchErr[id]; err != nil {
		return mail.Summary{}, err
	}
	s, ok := p.summaries[id]
	if !ok {
		return mail.Summary{}, fmt.Errorf("no such message %s", id)
	}
	return s, nil
}

func (p *fakeProvider) Delete(_ context.Context, id string) error {
	p.deleteCalls[id]++
	return p.deleteErr[id]
}

type fakeClassifier struct {
	deleteIDs map[string]bool
	omitIDs   map[string]bool
	err       error
	batches   [][]string
}

func (c *fakeClassifier) Classify(_ context.Context, batch []mail.Summary) ([]mail.Decision, error) {
	ids := make([]string, 0, len(batch))
	for _, s := range batch {
		ids = append(ids, s.ID)
	}
	c.batches = append(c.batches, ids)

	if c.err != nil {
		return nil, c.err
	}

	var out []mail.Decision
	for _, s := range batch {
		if c.omitIDs[s.ID] {
			continue
		}
		out = append(out, mail.Decision{MessageID: s.ID, Delete: c.deleteIDs[s.ID]})
	}
	return out, nil
}

type memRecords struct {
	outcomes map[string]mail.Outcome
}

func newMemRecords() *memRecords {
	return &memRecords{outcomes: make(map[string]mail.Outcome)}
}

func (r *memRecords) TerminalOutcomes(_ context.Context, ids []string) (map[string]mail.Outcome, error) {
	out := make(map[string]mail.Outcome)
	for _, id := range ids {
		if o, ok := r.outcomes[id]; ok && o.Terminal() {
			out[id] = o
		}
	}
	return out, nil
}

func (r *memRecords) Record(_ context.Context, id string, outcome mail.Outcome) error {
	if existing, ok := r.outcomes[id]; ok && existing.Terminal() {
		return nil
	}
	r.outcomes[id] = outcome
	return nil
}

func phishing() mail.Summary {
	return mail.NewSummary("msg-phish", "security@paypa1-alerts.example", "Verify your account NOW", "Your account will be suspended")
}

func newsletter() mail.Summary {
	return mail.NewSummary("msg-news", "news@koyeb.com", "This week in serverless", "Here is what shipped")
}

func TestProcessTickDeletesOnlyFlaggedMessages(t *testing.T) {
	provider := newFakeProvider(phishing(), newsletter())
	classifier := &fakeClassifier{deleteIDs: map[string]bool{"msg-phish": true}}
	records := newMemRecords()

	result, err := NewProcessor(provider, classifier, records).ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Kept)
	assert.Equal(t, 1, provider.deleteCalls["msg-phish"])
	assert.Equal(t, 0, provider.deleteCalls["msg-news"])
	assert.Equal(t, mail.OutcomeDeleted, records.outcomes["msg-phish"])
	assert.Equal(t, mail.OutcomeKept, records.outcomes["msg-news"])
}

func TestProcessDuplicateDeliveryIsNoOp(t *testing.T) {
	provider := newFakeProvider(phishing())
	classifier := &fakeClassifier{deleteIDs: map[string]bool{"msg-phish": true}}
	records := newMemRecords()
	processor := NewProcessor(provider, classifier, records)

	first, err := processor.Process(context.Background(), []string{"msg-phish"})
	require.NoError(t, err)
	require.Equal(t, 1, first.Deleted)

	second, err := processor.Process(context.Background(), []string{"msg-phish"})
	require.NoError(t, err)

	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.Deleted)
	assert.Equal(t, 1, provider.deleteCalls["msg-phish"], "at most one delete call per message id")
	assert.Len(t, classifier.batches, 1, "terminal messages are never reclassified")
}

func TestProcessDeduplicatesCandidatesWithinInvocation(t *testing.T) {
	provider := newFakeProvider(phishing())
	classifier := &fakeClassifier{deleteIDs: map[string]bool{"msg-phish": true}}
	processor := NewProcessor(provider, classifier, newMemRecords())

	_, err := processor.Process(context.Background(), []string{"msg-phish", "msg-phish", "msg-phish"})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.deleteCalls["msg-phish"])
}

func TestProcessAuthenticationFailureIsFatal(t *testing.T) {
	provider := newFakeProvider(phishing())
	provider.fetchErr["msg-phish"] = fmt.Errorf("get message: %w", credential.ErrAuthenticationRequired)
	classifier := &fakeClassifier{deleteIDs: map[string]bool{"msg-phish": true}}
	records := newMemRecords()

	_, err := NewProcessor(provider, classifier, records).Process(context.Background(), []string{"msg-phish"})

	require.ErrorIs(t, err, credential.ErrAuthenticationRequired)
	assert.Empty(t, classifier.batches, "no classification after auth failure")
	assert.Equal(t, 0, provider.deleteCalls["msg-phish"])
	assert.Empty(t, records.outcomes)
}

func TestClassifierFailureFailsClosed(t *testing.T) {
	provider := newFakeProvider(phishing(), newsletter())
	classifier := &fakeClassifier{err: ErrClassificationUnavailable}
	records := newMemRecords()
	processor := NewProcessor(provider, classifier, records)

	result, err := processor.ProcessTick(context.Background())
	require.NoError(t, err, "classifier failure is never fatal")

	assert.Equal(t, 2, result.Retrying)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 0, provider.deleteCalls["msg-phish"])
	assert.Equal(t, mail.OutcomePending, records.outcomes["msg-phish"])
	assert.Equal(t, mail.OutcomePending, records.outcomes["msg-news"])

	// Pending records stay eligible: a later invocation with a working
	// classifier processes them to a terminal outcome.
	classifier.err = nil
	classifier.deleteIDs = map[string]bool{"msg-phish": true}

	retry, err := processor.ProcessTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Deleted)
	assert.Equal(t, 1, retry.Kept)
	assert.Equal(t, mail.OutcomeDeleted, records.outcomes["msg-phish"])
}

func TestOneFailingBatchDoesNotBlockOthers(t *testing.T) {
	summaries := make([]mail.Summary, 0, 4)
	for i := 0; i < 4; i++ {
		summaries = append(summaries, mail.NewSummary(fmt.Sprintf("msg-%d", i), "a@b.example", "subject", ""))
	}
	provider := newFakeProvider(summaries...)

	classifier := &failOnceClassifier{}
	records := newMemRecords()
	processor := NewProcessor(provider, classifier, records).WithBatchSize(2)

	result, err := processor.ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Retrying, "first batch failed closed")
	assert.Equal(t, 2, result.Kept, "second batch still processed")
}

type failOnceClassifier struct {
	calls int
}

func (c *failOnceClassifier) Classify(_ context.Context, batch []mail.Summary) ([]mail.Decision, error) {
	c.calls++
	if c.calls == 1 {
		return nil, ErrClassificationUnavailable
	}
	out := make([]mail.Decision, 0, len(batch))
	for _, s := range batch {
		out = append(out, mail.Decision{MessageID: s.ID})
	}
	return out, nil
}

func TestDeleteFailureLeavesMessageEligibleForRetry(t *testing.T) {
	provider := newFakeProvider(phishing())
	provider.deleteErr["msg-phish"] = errors.New("HTTP 503")
	classifier := &fakeClassifier{deleteIDs: map[string]bool{"msg-phish": true}}
	records := newMemRecords()
	processor := NewProcessor(provider, classifier, records)

	result, err := processor.Process(context.Background(), []string{"msg-phish"})
	require.NoError(t, err, "per-message delete failure is not fatal")

	assert.Contains(t, result.DeleteFailed, "msg-phish")
	assert.NotContains(t, records.outcomes, "msg-phish", "failed deletion must not be recorded")

	// Provider recovers; the retry deletes and records.
	delete(provider.deleteErr, "msg-phish")
	retry, err := processor.Process(context.Background(), []string{"msg-phish"})
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Deleted)
	assert.Equal(t, 2, provider.deleteCalls["msg-phish"])
	assert.Equal(t, mail.OutcomeDeleted, records.outcomes["msg-phish"])
}

func TestMissingVerdictKeptForRetry(t *testing.T) {
	provider := newFakeProvider(phishing(), newsletter())
	classifier := &fakeClassifier{
		deleteIDs: map[string]bool{"msg-phish": true},
		omitIDs:   map[string]bool{"msg-phish": true},
	}
	records := newMemRecords()

	result, err := NewProcessor(provider, classifier, records).ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, 1, result.Retrying)
	assert.Equal(t, mail.OutcomePending, records.outcomes["msg-phish"])
}

func TestFetchFailureSkipsMessageOnly(t *testing.T) {
	provider := newFakeProvider(phishing(), newsletter())
	provider.fetchErr["msg-phish"] = errors.New("HTTP 502")
	classifier := &fakeClassifier{}
	records := newMemRecords()

	result, err := NewProcessor(provider, classifier, records).ProcessTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"msg-phish"}, result.FetchFailures)
	assert.Equal(t, 1, result.Kept)
	assert.NotContains(t, records.outcomes, "msg-phish")
}

func TestBatchingBoundsClassificationCalls(t *testing.T) {
	summaries := make([]mail.Summary, 0, 45)
	for i := 0; i < 45; i++ {
		summaries = append(summaries, mail.NewSummary(fmt.Sprintf("msg-%02d", i), "a@b.example", "subject", ""))
	}
	provider := newFakeProvider(summaries...)
	classifier := &fakeClassifier{}
	processor := NewProcessor(provider, classifier, newMemRecords()).
		WithBatchSize(20).
		WithListLimit(100)

	_, err := processor.ProcessTick(context.Background())
	require.NoError(t, err)

	require.Len(t, classifier.batches, 3)
	assert.Len(t, classifier.batches[0], 20)
	assert.Len(t, classifier.batches[1], 20)
	assert.Len(t, classifier.batches[2], 5)
}
