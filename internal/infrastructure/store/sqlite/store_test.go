package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"junkfilter/internal/application/credential"
	"junkfilter/internal/application/subscription"
	"junkfilter/internal/domain/mail"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testCredential() mail.Credential {
	return mail.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		Account:      "graph",
	}
}

func TestCredentialLoadEmpty(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Load(context.Background())

	require.ErrorIs(t, err, credential.ErrNotFound)
}

func TestCredentialInsertAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cred := testCredential()

	require.NoError(t, store.Store(ctx, cred, 0))

	got, version, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.Equal(t, cred.RefreshToken, got.RefreshToken)
	assert.Equal(t, cred.Account, got.Account)
	assert.True(t, cred.ExpiresAt.Equal(got.ExpiresAt))
	assert.EqualValues(t, 1, version)
}

func TestCredentialConditionalUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cred := testCredential()
	require.NoError(t, store.Store(ctx, cred, 0))

	cred.AccessToken = "access-2"
	cred.RefreshToken = "refresh-2"
	require.NoError(t, store.Store(ctx, cred, 1))

	got, version, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", got.RefreshToken)
	assert.EqualValues(t, 2, version)
}

func TestCredentialStaleVersionRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cred := testCredential()
	require.NoError(t, store.Store(ctx, cred, 0))

	cred.RefreshToken = "refresh-winner"
	require.NoError(t, store.Store(ctx, cred, 1))

	// A second writer still holding version 1 must lose.
	cred.RefreshToken = "refresh-loser"
	err := store.Store(ctx, cred, 1)
	require.ErrorIs(t, err, credential.ErrVersionConflict)

	got, _, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-winner", got.RefreshToken, "conflicting write must not clobber the winner")
}

func TestCredentialDuplicateInsertRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Store(ctx, testCredential(), 0))

	err := store.Store(ctx, testCredential(), 0)

	require.ErrorIs(t, err, credential.ErrVersionConflict)
}

func TestReplaceCredentialResetsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cred := testCredential()
	require.NoError(t, store.Store(ctx, cred, 0))
	cred.RefreshToken = "refresh-2"
	require.NoError(t, store.Store(ctx, cred, 1))

	fresh := testCredential()
	fresh.RefreshToken = "refresh-reseeded"
	require.NoError(t, store.ReplaceCredential(ctx, fresh))

	got, version, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-reseeded", got.RefreshToken)
	assert.EqualValues(t, 1, version)
}

func TestSubscriptionRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	subs := store.Subscriptions()

	_, err := subs.Load(ctx, "resource-a")
	require.ErrorIs(t, err, subscription.ErrNotFound)

	sub := mail.Subscription{
		ID:              "sub-1",
		Resource:        "resource-a",
		Expiration:      time.Now().Add(60 * time.Hour).Truncate(time.Second),
		NotificationURL: "https://example.com/webhook",
		ClientState:     "secret",
	}
	require.NoError(t, subs.Save(ctx, sub))

	got, err := subs.Load(ctx, "resource-a")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, sub.ClientState, got.ClientState)
	assert.True(t, sub.Expiration.Equal(got.Expiration))

	// Recreation overwrites in place, keyed by resource.
	sub.ID = "sub-2"
	sub.ClientState = "rotated"
	require.NoError(t, subs.Save(ctx, sub))

	got, err = subs.Load(ctx, "resource-a")
	require.NoError(t, err)
	assert.Equal(t, "sub-2", got.ID)
	assert.Equal(t, "rotated", got.ClientState)
}

func TestRecordTerminalIsWriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "msg-1", mail.OutcomeDeleted))
	require.NoError(t, store.Record(ctx, "msg-1", mail.OutcomeKept))

	out, err := store.TerminalOutcomes(ctx, []string{"msg-1"})
	require.NoError(t, err)
	assert.Equal(t, mail.OutcomeDeleted, out["msg-1"], "terminal outcome is never overwritten")
}

func TestRecordPendingUpgradesToTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "msg-1", mail.OutcomePending))

	out, err := store.TerminalOutcomes(ctx, []string{"msg-1"})
	require.NoError(t, err)
	assert.NotContains(t, out, "msg-1", "pending is not terminal")

	require.NoError(t, store.Record(ctx, "msg-1", mail.OutcomeKept))

	out, err = store.TerminalOutcomes(ctx, []string{"msg-1"})
	require.NoError(t, err)
	assert.Equal(t, mail.OutcomeKept, out["msg-1"])
}

func TestTerminalOutcomesFiltersUnknownIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "msg-1", mail.OutcomeDeleted))
	require.NoError(t, store.Record(ctx, "msg-2", mail.OutcomePending))

	out, err := store.TerminalOutcomes(ctx, []string{"msg-1", "msg-2", "msg-3"})
	require.NoError(t, err)

	assert.Len(t, out, 1)
	assert.Equal(t, mail.OutcomeDeleted, out["msg-1"])
}

func TestTerminalOutcomesEmptyInput(t *testing.T) {
	store := newTestStore(t)

	out, err := store.TerminalOutcomes(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPruneDropsOldRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "msg-1", mail.OutcomeDeleted))
	require.NoError(t, store.Record(ctx, "msg-2", mail.OutcomeKept))

	pruned, err := store.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, pruned, "fresh records survive the cutoff")

	pruned, err = store.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)

	out, err := store.TerminalOutcomes(ctx, []string{"msg-1", "msg-2"})
	require.NoError(t, err)
	assert.Empty(t, out)
}
