package oauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"junkfilter/internal/application/credential"
	"junkfilter/internal/domain/mail"
)

// Refresher exchanges refresh tokens at the provider's token endpoint
// through an oauth2 config. Both providers rotate or re-issue tokens
// through the same grant, so one implementation serves both.
type Refresher struct {
	cfg *oauth2.Config
}

var _ credential.Refresher = (*Refresher)(nil)

func NewRefresher(cfg *oauth2.Config) *Refresher {
	return &Refresher{cfg: cfg}
}

// Refresh performs a single refresh-token grant. A rejected token
// (invalid_grant) maps to credential.ErrAuthenticationRequired: the
// token was rotated away or revoked, and retrying cannot help.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (mail.Credential, error) {
	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return mail.Credential{}, fmt.Errorf("refresh token rejected: %w", credential.ErrAuthenticationRequired)
		}
		return mail.Credential{}, fmt.Errorf("token endpoint: %w", err)
	}

	return FromToken(tok), nil
}

// FromToken converts an oauth2 token into the domain credential.
func FromToken(tok *oauth2.Token) mail.Credential {
	return mail.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}
