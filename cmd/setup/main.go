// Command setup runs the one-time interactive authentication and
// seeds the credential record the server refreshes from. Run it again
// whenever the server reports that authentication is required.
package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"junkfilter/internal/domain/mail"
	"junkfilter/internal/infrastructure/config"
	"junkfilter/internal/infrastructure/oauth"
	"junkfilter/internal/infrastructure/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx := context.Background()

	provider := getEnv("PROVIDER", config.ProviderGraph)
	dbPath := getEnv("DATABASE_PATH", "junkfilter.db")

	store, err := sqlite.NewStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	var cred mail.Credential
	switch provider {
	case config.ProviderGraph:
		clientID := os.Getenv("GRAPH_CLIENT_ID")
		if clientID == "" {
			log.Fatal("GRAPH_CLIENT_ID is required")
		}
		cred, err = oauth.DeviceFlow(ctx, oauth.GraphConfig(clientID))

	case config.ProviderGmail:
		oauthCfg, cfgErr := oauth.GmailConfig(getEnv("GOOGLE_CREDENTIALS_PATH", "credentials.json"))
		if cfgErr != nil {
			log.Fatalf("Failed to load Google OAuth config: %v", cfgErr)
		}
		cred, err = oauth.WebFlow(ctx, oauthCfg)

	default:
		log.Fatalf("Unknown PROVIDER %q", provider)
	}
	if err != nil {
		log.Fatalf("Authentication failed: %v", err)
	}

	if cred.RefreshToken == "" {
		log.Fatal("Provider returned no refresh token; check the offline access scope and client settings")
	}

	cred.Account = provider
	if err := store.ReplaceCredential(ctx, cred); err != nil {
		log.Fatalf("Failed to persist credential: %v", err)
	}

	log.Printf("Credential stored in %s, valid until %s. The server can now authenticate.", dbPath, cred.ExpiresAt.Format("2006-01-02 15:04:05"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
