package mail

import "time"

// Credential is the refresh-capable access credential for the mail
// provider. The refresh token rotates on every use: at most one value
// is live, and replaying an old one fails permanently.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Account      string
}

// ValidFor reports whether the access token is still usable at now
// plus the given safety margin.
func (c Credential) ValidFor(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt.After(now.Add(margin))
}
