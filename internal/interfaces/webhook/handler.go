package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"junkfilter/internal/application/credential"
	"junkfilter/internal/application/subscription"
	"junkfilter/internal/application/triage"
	"junkfilter/internal/domain/mail"
)

// fallbackFetch bounds how many recent junk messages are pulled when
// a notification does not name the affected message.
const fallbackFetch = 5

// Processor is the triage entry point the ingress feeds.
type Processor interface {
	Process(ctx context.Context, candidateIDs []string) (triage.Result, error)
	ProcessRecent(ctx context.Context, max int64) (triage.Result, error)
}

// SubscriptionSource serves the stored subscription so deliveries can
// be authenticated against its client state secret.
type SubscriptionSource interface {
	Current(ctx context.Context) (mail.Subscription, error)
}

// Handler is the provider-facing webhook ingress: it answers the
// subscription validation handshake and turns pushed notifications
// into candidate batches for the processor.
type Handler struct {
	processor Processor
	subs      SubscriptionSource
}

func NewHandler(processor Processor, subs SubscriptionSource) *Handler {
	return &Handler{
		processor: processor,
		subs:      subs,
	}
}

type notification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

type notificationBody struct {
	Value []notification `json:"value"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscription creation handshake: echo the validation token as
	// plain text or the provider refuses to activate delivery.
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, token)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body notificationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Printf("Malformed notification payload: %v", err)
		http.Error(w, "malformed notification", http.StatusBadRequest)
		return
	}

	if len(body.Value) == 0 {
		writeResult(w, triage.Result{})
		return
	}

	ids, accepted := h.authenticate(r.Context(), body.Value)
	if accepted == 0 {
		// Nothing matched our client state: reject so a misdirected or
		// spoofed sender gets an error, not a silent success.
		http.Error(w, "unknown notification", http.StatusBadRequest)
		return
	}

	var result triage.Result
	var err error
	if len(ids) > 0 {
		result, err = h.processor.Process(r.Context(), ids)
	} else {
		// Notifications without resource ids: fall back to the most
		// recent junk messages, which is where new arrivals land.
		result, err = h.processor.ProcessRecent(r.Context(), fallbackFetch)
	}

	if err != nil {
		if errors.Is(err, credential.ErrAuthenticationRequired) {
			log.Printf("FATAL: %v", err)
		} else {
			log.Printf("Notification processing failed: %v", err)
		}
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	writeResult(w, result)
}

// authenticate filters notifications to ones carrying our client
// state and the created change type, returning any message ids named.
func (h *Handler) authenticate(ctx context.Context, notifications []notification) (ids []string, accepted int) {
	sub, err := h.subs.Current(ctx)
	if err != nil {
		if !errors.Is(err, subscription.ErrNotFound) {
			log.Printf("Load subscription for validation: %v", err)
		}
		return nil, 0
	}
	if sub.ClientState == "" {
		return nil, 0
	}

	for _, n := range notifications {
		if n.ClientState != sub.ClientState {
			log.Printf("Dropping notification with wrong client state (subscription %s)", n.SubscriptionID)
			continue
		}
		if n.ChangeType != "created" {
			continue
		}
		accepted++
		if n.ResourceData.ID != "" {
			ids = append(ids, n.ResourceData.ID)
		}
	}
	return ids, accepted
}

func writeResult(w http.ResponseWriter, res triage.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"message":   res.String(),
		"processed": res.Deleted + res.Kept,
		"deleted":   res.Deleted,
		"kept":      res.Kept,
	})
}
