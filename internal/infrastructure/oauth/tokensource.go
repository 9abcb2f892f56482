package oauth

import (
	"context"

	"golang.org/x/oauth2"

	"junkfilter/internal/domain/mail"
)

// TokenProvider is the credential manager surface needed here.
type TokenProvider interface {
	Token(ctx context.Context) (mail.Credential, error)
}

// TokenSource adapts the credential manager to oauth2.TokenSource so
// the Gmail API client refreshes through the durable store instead of
// keeping tokens in process memory.
func TokenSource(ctx context.Context, provider TokenProvider) oauth2.TokenSource {
	return managerSource{ctx: ctx, provider: provider}
}

type managerSource struct {
	ctx      context.Context
	provider TokenProvider
}

func (s managerSource) Token() (*oauth2.Token, error) {
	cred, err := s.provider.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		Expiry:      cred.ExpiresAt,
	}, nil
}
