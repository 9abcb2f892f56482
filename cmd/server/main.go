package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"junkfilter/internal/application/credential"
	"junkfilter/internal/application/subscription"
	"junkfilter/internal/application/triage"
	"junkfilter/internal/infrastructure/config"
	"junkfilter/internal/infrastructure/gmail"
	"junkfilter/internal/infrastructure/graph"
	"junkfilter/internal/infrastructure/llm"
	"junkfilter/internal/infrastructure/oauth"
	"junkfilter/internal/infrastructure/pubsub"
	"junkfilter/internal/infrastructure/store/sqlite"
	pubsubHandler "junkfilter/internal/interfaces/pubsub"
	"junkfilter/internal/interfaces/webhook"
)

// invocationTimeout bounds one triage or renewal run so a stuck
// external call cannot wedge the ticker loop.
const invocationTimeout = 2 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := sqlite.NewStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}()

	classifier, err := llm.NewClient(cfg.OpenAIAPIKey, cfg.ModelName, llm.Rules{
		KeepSenders:    cfg.KeepSenders,
		DeletePatterns: cfg.DeletePatterns,
	})
	if err != nil {
		log.Fatalf("Failed to create classifier: %v", err)
	}

	var (
		provider triage.MailProvider
		subAPI   subscription.API
		resource string
		creds    *credential.Manager
	)

	switch cfg.Provider {
	case config.ProviderGraph:
		creds = credential.NewManager(store, oauth.NewRefresher(oauth.GraphConfig(cfg.GraphClientID)))
		client := graph.NewClient(creds)
		provider, subAPI, resource = client, client, graph.JunkResource

	case config.ProviderGmail:
		oauthCfg, err := oauth.GmailConfig(cfg.GoogleCredentialsPath)
		if err != nil {
			log.Fatalf("Failed to load Google OAuth config: %v", err)
		}
		creds = credential.NewManager(store, oauth.NewRefresher(oauthCfg))

		srv, err := gmail.NewService(ctx, oauth.TokenSource(ctx, creds))
		if err != nil {
			log.Fatalf("Failed to create Gmail service: %v", err)
		}
		client := gmail.NewClient(srv, cfg.TopicName)
		provider, subAPI, resource = client, client, gmail.WatchResource
	}

	processor := triage.NewProcessor(provider, classifier, store).
		WithBatchSize(cfg.BatchSize).
		WithListLimit(cfg.ListLimit)

	subs := subscription.NewManager(subAPI, store.Subscriptions(),
		resource, cfg.NotificationURL, cfg.SubscriptionLifetime, cfg.RenewWindow)

	// The ingress must be up before the subscription is created: the
	// provider validates the notification endpoint during creation.
	switch cfg.Provider {
	case config.ProviderGraph:
		mux := http.NewServeMux()
		mux.Handle("/webhook", webhook.NewHandler(processor, subs))
		httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
		go func() {
			log.Printf("Webhook ingress listening on %s", cfg.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Webhook server error: %v", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Webhook server shutdown: %v", err)
			}
		}()

	case config.ProviderGmail:
		subscriber, err := pubsub.NewSubscriber(ctx, cfg.GoogleCloudProject, cfg.SubscriptionID)
		if err != nil {
			log.Fatalf("Failed to create subscriber: %v", err)
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				log.Printf("Failed to close subscriber: %v", err)
			}
		}()

		handler := pubsubHandler.NewHandler(processor, provider.(*gmail.Client))
		go func() {
			if err := subscriber.Listen(ctx, handler.HandleNotification); err != nil && ctx.Err() == nil {
				log.Printf("Pub/Sub listener error: %v", err)
			}
		}()
	}

	ensureSubscription(ctx, subs)

	renewTicker := time.NewTicker(cfg.RenewInterval)
	defer renewTicker.Stop()
	pollTicker := time.NewTicker(cfg.PollInterval)
	defer pollTicker.Stop()

	runTriage(ctx, processor, store, cfg.RetentionPeriod)

	log.Println("junkfilter is running. Press Ctrl+C to stop.")

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down gracefully...")
			return
		case <-renewTicker.C:
			ensureSubscription(ctx, subs)
		case <-pollTicker.C:
			runTriage(ctx, processor, store, cfg.RetentionPeriod)
		}
	}
}

func ensureSubscription(ctx context.Context, subs *subscription.Manager) {
	runCtx, cancel := context.WithTimeout(ctx, invocationTimeout)
	defer cancel()

	if _, err := subs.EnsureActive(runCtx); err != nil {
		if errors.Is(err, credential.ErrAuthenticationRequired) {
			log.Printf("FATAL: %v", err)
			return
		}
		log.Printf("Warning: subscription upkeep failed: %v", err)
	}
}

func runTriage(ctx context.Context, processor *triage.Processor, store *sqlite.Store, retention time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, invocationTimeout)
	defer cancel()

	result, err := processor.ProcessTick(runCtx)
	if err != nil {
		if errors.Is(err, credential.ErrAuthenticationRequired) {
			log.Printf("FATAL: %v", err)
			return
		}
		log.Printf("Scheduled triage failed: %v", err)
		return
	}
	log.Printf("Scheduled triage: %s", result)

	pruned, err := store.Prune(runCtx, time.Now().Add(-retention))
	if err != nil {
		log.Printf("Prune failed: %v", err)
	} else if pruned > 0 {
		log.Printf("Pruned %d old processed records", pruned)
	}
}
