package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider selects which mail backend the server talks to.
const (
	ProviderGraph = "graph"
	ProviderGmail = "gmail"
)

type Config struct {
	// Mail provider
	Provider      string
	GraphClientID string

	// Google Cloud (gmail provider)
	GoogleCloudProject    string
	SubscriptionID        string
	TopicName             string
	GoogleCredentialsPath string

	// OpenAI
	OpenAIAPIKey string
	ModelName    string

	// Classification overrides
	KeepSenders    []string
	DeletePatterns []string

	// Database
	DatabasePath string

	// Webhook ingress
	ListenAddr      string
	NotificationURL string

	// Cadences
	PollInterval         time.Duration
	RenewInterval        time.Duration
	RenewWindow          time.Duration
	SubscriptionLifetime time.Duration

	// App settings
	BatchSize       int
	ListLimit       int64
	RetentionPeriod time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Provider:              getEnv("PROVIDER", ProviderGraph),
		GraphClientID:         getEnv("GRAPH_CLIENT_ID", ""),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		SubscriptionID:        getEnv("SUBSCRIPTION_ID", ""),
		GoogleCredentialsPath: getEnv("GOOGLE_CREDENTIALS_PATH", "credentials.json"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		ModelName:             getEnv("MODEL_NAME", "gpt-4o-mini"),
		KeepSenders:           getEnvList("KEEP_SENDERS"),
		DeletePatterns:        getEnvList("DELETE_PATTERNS"),
		DatabasePath:          getEnv("DATABASE_PATH", "junkfilter.db"),
		ListenAddr:            getEnv("LISTEN_ADDR", ":8080"),
		NotificationURL:       getEnv("NOTIFICATION_URL", ""),
		PollInterval:          getEnvDuration("POLL_INTERVAL", time.Hour),
		RenewInterval:         getEnvDuration("RENEW_INTERVAL", 6*time.Hour),
		RenewWindow:           getEnvDuration("RENEW_WINDOW", 24*time.Hour),
		SubscriptionLifetime:  getEnvDuration("SUBSCRIPTION_LIFETIME", 60*time.Hour),
		BatchSize:             getEnvInt("BATCH_SIZE", 20),
		ListLimit:             int64(getEnvInt("LIST_LIMIT", 20)),
		RetentionPeriod:       getEnvDuration("RETENTION_PERIOD", 30*24*time.Hour),
	}

	// Validate required fields
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	switch cfg.Provider {
	case ProviderGraph:
		if cfg.GraphClientID == "" {
			return nil, fmt.Errorf("GRAPH_CLIENT_ID is required for the graph provider")
		}
		if cfg.NotificationURL == "" {
			return nil, fmt.Errorf("NOTIFICATION_URL is required for the graph provider")
		}
	case ProviderGmail:
		if cfg.GoogleCloudProject == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the gmail provider")
		}
		if cfg.SubscriptionID == "" {
			return nil, fmt.Errorf("SUBSCRIPTION_ID is required for the gmail provider")
		}
		cfg.TopicName = fmt.Sprintf("projects/%s/topics/junkfilter-topic", cfg.GoogleCloudProject)
	default:
		return nil, fmt.Errorf("PROVIDER must be %q or %q, got %q", ProviderGraph, ProviderGmail, cfg.Provider)
	}

	// The renewal trigger must fire at least twice per window, so a
	// single failed renewal still leaves a retry before the provider's
	// hard expiration kills notification delivery.
	if cfg.RenewInterval*2 > cfg.RenewWindow {
		return nil, fmt.Errorf("RENEW_INTERVAL (%s) must be at most half of RENEW_WINDOW (%s)", cfg.RenewInterval, cfg.RenewWindow)
	}
	if cfg.RenewWindow >= cfg.SubscriptionLifetime {
		return nil, fmt.Errorf("RENEW_WINDOW (%s) must be shorter than SUBSCRIPTION_LIFETIME (%s)", cfg.RenewWindow, cfg.SubscriptionLifetime)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
