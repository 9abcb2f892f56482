package pubsub

import (
	"context"
	"errors"
	"log"

	"junkfilter/internal/application/credential"
	"junkfilter/internal/application/triage"
)

// Processor is the triage entry point the ingress feeds.
type Processor interface {
	Process(ctx context.Context, candidateIDs []string) (triage.Result, error)
}

// HistoryFetcher resolves a Gmail history id into the spam message
// ids added since.
type HistoryFetcher interface {
	SpamAddedSince(ctx context.Context, historyID uint64) ([]string, error)
}

// Handler turns Gmail push notifications into candidate batches.
// Duplicate notifications for the same history id are harmless: the
// processor's durable records make reprocessing a no-op.
type Handler struct {
	processor Processor
	history   HistoryFetcher
}

func NewHandler(processor Processor, history HistoryFetcher) *Handler {
	return &Handler{
		processor: processor,
		history:   history,
	}
}

func (h *Handler) HandleNotification(ctx context.Context, historyID uint64) {
	messageIDs, err := h.history.SpamAddedSince(ctx, historyID)
	if err != nil {
		log.Printf("Fetch history error: %v", err)
		return
	}

	if len(messageIDs) == 0 {
		log.Printf("No new spam in historyID: %d", historyID)
		return
	}

	log.Printf("Found %d new spam message(s) in historyID: %d", len(messageIDs), historyID)

	result, err := h.processor.Process(ctx, messageIDs)
	if err != nil {
		if errors.Is(err, credential.ErrAuthenticationRequired) {
			log.Printf("FATAL: %v", err)
			return
		}
		log.Printf("Notification processing failed: %v", err)
		return
	}

	log.Printf("Notification processed: %s", result)
}
