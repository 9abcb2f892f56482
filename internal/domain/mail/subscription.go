package mail

import "time"

// Subscription is a provider-side push registration for the junk
// folder. Providers cap its lifetime; it must be renewed strictly
// before Expiration or notifications stop silently.
type Subscription struct {
	ID              string
	Resource        string
	Expiration      time.Time
	NotificationURL string
	ClientState     string
}

// ExpiresWithin reports whether the subscription expires before now
// plus the renewal window.
func (s Subscription) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !s.Expiration.After(now.Add(window))
}
