package subscription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"junkfilter/internal/domain/mail"
)

// ErrLapsed means the provider no longer knows the subscription. A
// lapsed subscription cannot be renewed, only recreated.
var ErrLapsed = errors.New("subscription lapsed")

// ErrNotFound is returned by Store when no subscription is persisted.
var ErrNotFound = errors.New("subscription not found")

// State classifies a stored subscription for the renewal decision.
type State string

const (
	StateAbsent   State = "absent"
	StateActive   State = "active"
	StateExpiring State = "expiring"
	StateLapsed   State = "lapsed"
)

// API is the provider's subscription surface. Create activates push
// delivery to sub.NotificationURL (the provider validates the endpoint
// with a handshake before accepting). Renew must return ErrLapsed when
// the provider reports the subscription missing.
type API interface {
	Create(ctx context.Context, sub mail.Subscription) (mail.Subscription, error)
	Renew(ctx context.Context, id string, until time.Time) (time.Time, error)
}

// Store persists the single subscription record per watched resource.
type Store interface {
	Load(ctx context.Context, resource string) (mail.Subscription, error)
	Save(ctx context.Context, sub mail.Subscription) error
}

// Manager keeps one push subscription alive. The renewal trigger must
// fire at least twice per renewal window so a single failed attempt
// still leaves a retry before the provider's hard expiration.
type Manager struct {
	api   API
	store Store

	resource        string
	notificationURL string
	lifetime        time.Duration
	renewWindow     time.Duration
	now             func() time.Time
}

func NewManager(api API, store Store, resource, notificationURL string, lifetime, renewWindow time.Duration) *Manager {
	return &Manager{
		api:             api,
		store:           store,
		resource:        resource,
		notificationURL: notificationURL,
		lifetime:        lifetime,
		renewWindow:     renewWindow,
		now:             time.Now,
	}
}

// Current returns the stored subscription, or ErrNotFound.
func (m *Manager) Current(ctx context.Context) (mail.Subscription, error) {
	return m.store.Load(ctx, m.resource)
}

// Classify maps a stored subscription onto the lifecycle state.
func (m *Manager) Classify(sub mail.Subscription, now time.Time) State {
	switch {
	case sub.ID == "":
		return StateAbsent
	case !sub.Expiration.After(now):
		return StateLapsed
	case sub.ExpiresWithin(now, m.renewWindow):
		return StateExpiring
	default:
		return StateActive
	}
}

// EnsureActive drives the state machine: creates when absent or
// lapsed, renews when inside the renewal window, and falls back to
// recreation when the provider reports the subscription gone.
func (m *Manager) EnsureActive(ctx context.Context) (mail.Subscription, error) {
	sub, err := m.store.Load(ctx, m.resource)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return mail.Subscription{}, fmt.Errorf("load subscription: %w", err)
	}

	now := m.now()
	switch m.Classify(sub, now) {
	case StateActive:
		return sub, nil

	case StateExpiring:
		renewed, err := m.renew(ctx, sub)
		if errors.Is(err, ErrLapsed) {
			log.Printf("Subscription %s lapsed before renewal, recreating", sub.ID)
			return m.create(ctx)
		}
		return renewed, err

	default: // absent or lapsed
		return m.create(ctx)
	}
}

func (m *Manager) create(ctx context.Context) (mail.Subscription, error) {
	want := mail.Subscription{
		Resource:        m.resource,
		NotificationURL: m.notificationURL,
		Expiration:      m.now().Add(m.lifetime),
		ClientState:     uuid.NewString(),
	}

	created, err := m.api.Create(ctx, want)
	if err != nil {
		return mail.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	if created.ClientState == "" {
		created.ClientState = want.ClientState
	}

	if err := m.store.Save(ctx, created); err != nil {
		return mail.Subscription{}, fmt.Errorf("persist subscription: %w", err)
	}

	log.Printf("Subscription %s active for %s until %s", created.ID, created.Resource, created.Expiration.Format(time.RFC3339))
	return created, nil
}

func (m *Manager) renew(ctx context.Context, sub mail.Subscription) (mail.Subscription, error) {
	until := m.now().Add(m.lifetime)

	expiration, err := m.api.Renew(ctx, sub.ID, until)
	if err != nil {
		if errors.Is(err, ErrLapsed) {
			return mail.Subscription{}, err
		}
		return mail.Subscription{}, fmt.Errorf("renew subscription %s: %w", sub.ID, err)
	}

	sub.Expiration = expiration
	if err := m.store.Save(ctx, sub); err != nil {
		return mail.Subscription{}, fmt.Errorf("persist renewed subscription: %w", err)
	}

	log.Printf("Subscription %s renewed until %s", sub.ID, expiration.Format(time.RFC3339))
	return sub, nil
}
