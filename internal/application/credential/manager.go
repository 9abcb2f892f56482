package credential

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"junkfilter/internal/domain/mail"
)

// ErrAuthenticationRequired means the cached refresh token is missing
// or was rejected by the provider. There is no automatic recovery: the
// interactive setup flow must be run again. Callers must not retry.
var ErrAuthenticationRequired = errors.New("authentication required: run setup to re-authenticate")

// ErrNotFound is returned by Storage when no credential record exists.
var ErrNotFound = errors.New("credential not found")

// ErrVersionConflict is returned by Storage when a conditional write
// loses the race against a concurrent writer.
var ErrVersionConflict = errors.New("credential version conflict")

// Storage persists the single credential record with optimistic
// concurrency. Store must only succeed when the stored version still
// equals prevVersion (prevVersion 0 means insert-if-absent).
type Storage interface {
	Load(ctx context.Context) (mail.Credential, int64, error)
	Store(ctx context.Context, cred mail.Credential, prevVersion int64) error
}

// Refresher exchanges a refresh token for a fresh credential at the
// provider's token endpoint. It must return ErrAuthenticationRequired
// (wrapped is fine) when the token is rejected as invalid or expired.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (mail.Credential, error)
}

const defaultMargin = 5 * time.Minute

// Manager serves credentials guaranteed valid beyond a safety margin,
// refreshing and persisting as needed. Because the provider rotates
// refresh tokens, a refresh race between overlapping invocations must
// never discard the rotated token: the refresh-and-persist step is a
// conditional write, and the loser re-reads instead of re-refreshing.
type Manager struct {
	storage   Storage
	refresher Refresher
	margin    time.Duration
	now       func() time.Time

	// Serializes refreshes within the process. Concurrent callers wait
	// and then re-read the store instead of each hitting the token
	// endpoint with the same soon-to-be-stale refresh token.
	mu sync.Mutex
}

func NewManager(storage Storage, refresher Refresher) *Manager {
	return &Manager{
		storage:   storage,
		refresher: refresher,
		margin:    defaultMargin,
		now:       time.Now,
	}
}

// WithMargin overrides the expiry safety margin.
func (m *Manager) WithMargin(margin time.Duration) *Manager {
	m.margin = margin
	return m
}

// Token returns a credential valid for at least the safety margin.
func (m *Manager) Token(ctx context.Context) (mail.Credential, error) {
	cred, _, err := m.load(ctx)
	if err != nil {
		return mail.Credential{}, err
	}
	if cred.ValidFor(m.now(), m.margin) {
		return cred, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-read under the lock: a caller we waited on has usually
	// refreshed and persisted already.
	cred, version, err := m.load(ctx)
	if err != nil {
		return mail.Credential{}, err
	}
	if cred.ValidFor(m.now(), m.margin) {
		return cred, nil
	}

	return m.refresh(ctx, cred, version)
}

func (m *Manager) load(ctx context.Context) (mail.Credential, int64, error) {
	cred, version, err := m.storage.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return mail.Credential{}, 0, fmt.Errorf("no cached credential: %w", ErrAuthenticationRequired)
	}
	if err != nil {
		return mail.Credential{}, 0, fmt.Errorf("load credential: %w", err)
	}
	return cred, version, nil
}

func (m *Manager) refresh(ctx context.Context, cred mail.Credential, version int64) (mail.Credential, error) {
	if cred.RefreshToken == "" {
		return mail.Credential{}, fmt.Errorf("stored credential has no refresh token: %w", ErrAuthenticationRequired)
	}

	fresh, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrAuthenticationRequired) {
			// A rejected token can mean two things: the user revoked
			// access, or a concurrent invocation already rotated it.
			// Check the store before declaring the fatal case.
			if stored, ok := m.rotatedElsewhere(ctx, version); ok {
				return stored, nil
			}
			// Loud on purpose: the one failure with no automatic recovery.
			log.Printf("Credential refresh rejected by provider: %v", err)
			return mail.Credential{}, err
		}
		return mail.Credential{}, fmt.Errorf("refresh credential: %w", err)
	}
	if fresh.Account == "" {
		fresh.Account = cred.Account
	}
	if fresh.RefreshToken == "" {
		// Provider did not rotate; keep the live one.
		fresh.RefreshToken = cred.RefreshToken
	}

	err = m.storage.Store(ctx, fresh, version)
	if errors.Is(err, ErrVersionConflict) {
		// A concurrent invocation refreshed first and persisted the
		// rotated token. Re-read it; a second refresh with our
		// now-stale token would fail permanently.
		stored, _, loadErr := m.storage.Load(ctx)
		if loadErr != nil {
			return mail.Credential{}, fmt.Errorf("re-read after refresh conflict: %w", loadErr)
		}
		log.Printf("Credential refresh raced a concurrent invocation, using its result")
		return stored, nil
	}
	if err != nil {
		return mail.Credential{}, fmt.Errorf("persist refreshed credential: %w", err)
	}

	return fresh, nil
}

// rotatedElsewhere reports whether another invocation persisted a
// newer credential since we read version. If so the refresh rejection
// was just the lost race, not a revocation.
func (m *Manager) rotatedElsewhere(ctx context.Context, version int64) (mail.Credential, bool) {
	stored, storedVersion, err := m.storage.Load(ctx)
	if err != nil || storedVersion == version {
		return mail.Credential{}, false
	}
	if !stored.ValidFor(m.now(), m.margin) {
		return mail.Credential{}, false
	}
	log.Printf("Credential was rotated by a concurrent invocation, using its result")
	return stored, true
}
