package oauth

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	gmailapi "google.golang.org/api/gmail/v1"
)

// graphScopes: Mail.ReadWrite covers junk-folder reads and deletes,
// offline_access is what makes the provider issue a refresh token.
var graphScopes = []string{"User.Read", "Mail.ReadWrite", "offline_access"}

// GraphConfig is the oauth2 config for a Microsoft consumer account.
func GraphConfig(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: microsoft.AzureADEndpoint("consumers"),
		Scopes:   graphScopes,
	}
}

// GmailConfig loads the Google OAuth client from a credentials.json
// downloaded from the cloud console.
func GmailConfig(credentialsPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", credentialsPath, err)
	}

	cfg, err := google.ConfigFromJSON(b, gmailapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", credentialsPath, err)
	}
	return cfg, nil
}
