package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"junkfilter/internal/application/subscription"
	"junkfilter/internal/domain/mail"
)

var _ subscription.API = (*Client)(nil)

// Graph wants the expiration as an ISO timestamp with a Z suffix.
const expirationFormat = "2006-01-02T15:04:05Z"

type subscriptionPayload struct {
	ChangeType         string `json:"changeType,omitempty"`
	NotificationURL    string `json:"notificationUrl,omitempty"`
	Resource           string `json:"resource,omitempty"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState,omitempty"`
}

type subscriptionResponse struct {
	ID                 string `json:"id"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
	NotificationURL    string `json:"notificationUrl"`
	ClientState        string `json:"clientState"`
}

// Create registers a push subscription for new junk messages. Graph
// validates the notification endpoint with a handshake before
// returning 201, so a success also confirms the webhook is reachable.
func (c *Client) Create(ctx context.Context, sub mail.Subscription) (mail.Subscription, error) {
	payload, err := json.Marshal(subscriptionPayload{
		ChangeType:         "created",
		NotificationURL:    sub.NotificationURL,
		Resource:           sub.Resource,
		ExpirationDateTime: sub.Expiration.UTC().Format(expirationFormat),
		ClientState:        sub.ClientState,
	})
	if err != nil {
		return mail.Subscription{}, fmt.Errorf("marshal subscription: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/subscriptions", bytes.NewReader(payload))
	if err != nil {
		return mail.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return mail.Subscription{}, fmt.Errorf("create subscription: %s", readGraphError(resp))
	}

	var created subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return mail.Subscription{}, fmt.Errorf("decode subscription: %w", err)
	}

	out := mail.Subscription{
		ID:              created.ID,
		Resource:        sub.Resource,
		NotificationURL: sub.NotificationURL,
		ClientState:     sub.ClientState,
		Expiration:      sub.Expiration,
	}
	if t, err := time.Parse(time.RFC3339, created.ExpirationDateTime); err == nil {
		out.Expiration = t
	}
	return out, nil
}

// Renew extends the subscription's expiration. A 404 means the
// subscription already lapsed or was invalidated, reported as
// subscription.ErrLapsed so the caller recreates it.
func (c *Client) Renew(ctx context.Context, id string, until time.Time) (time.Time, error) {
	payload, err := json.Marshal(subscriptionPayload{
		ExpirationDateTime: until.UTC().Format(expirationFormat),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal renewal: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(id), bytes.NewReader(payload))
	if err != nil {
		return time.Time{}, fmt.Errorf("renew subscription: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return time.Time{}, subscription.ErrLapsed
	default:
		return time.Time{}, fmt.Errorf("renew subscription: %s", readGraphError(resp))
	}

	var renewed subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&renewed); err != nil {
		return time.Time{}, fmt.Errorf("decode renewal: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, renewed.ExpirationDateTime); err == nil {
		return t, nil
	}
	return until, nil
}
