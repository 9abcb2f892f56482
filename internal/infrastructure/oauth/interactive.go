package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"junkfilter/internal/domain/mail"
)

// DeviceFlow runs the interactive device-code grant: print the
// verification URL and user code, then poll until the user approves.
// This is the out-of-band path that seeds the credential record.
func DeviceFlow(ctx context.Context, cfg *oauth2.Config) (mail.Credential, error) {
	auth, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return mail.Credential{}, fmt.Errorf("start device flow: %w", err)
	}

	fmt.Println("1) Open this URL in your browser:")
	fmt.Println(auth.VerificationURI)
	fmt.Printf("2) Enter the code: %s\n", auth.UserCode)
	fmt.Println("Waiting for approval...")

	tok, err := cfg.DeviceAccessToken(ctx, auth)
	if err != nil {
		return mail.Credential{}, fmt.Errorf("device flow: %w", err)
	}
	return FromToken(tok), nil
}

// WebFlow runs the copy-paste authorization-code grant used for
// Google OAuth clients without a local redirect listener.
func WebFlow(ctx context.Context, cfg *oauth2.Config) (mail.Credential, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Println("1) Copy this URL and open it in your browser:")
	fmt.Println(authURL)
	fmt.Println("\n2) Sign in and accept the permissions.")
	fmt.Print("3) Paste the authorization code here: ")

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return mail.Credential{}, fmt.Errorf("cannot read auth code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, authCode)
	if err != nil {
		return mail.Credential{}, fmt.Errorf("cannot exchange code for token: %w", err)
	}
	return FromToken(tok), nil
}
