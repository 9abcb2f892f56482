package gmail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"junkfilter/internal/application/subscription"
	"junkfilter/internal/application/triage"
	"junkfilter/internal/domain/mail"
)

// SpamLabel is Gmail's junk folder.
const SpamLabel = "SPAM"

// WatchResource is the stored subscription resource for Gmail mode.
const WatchResource = "labels/" + SpamLabel

// Client adapts the Gmail API to the mail-provider and subscription
// ports. The junk folder is the SPAM label; the push subscription is
// Users.Watch publishing to a Pub/Sub topic.
type Client struct {
	srv   *gmailapi.Service
	topic string
}

var (
	_ triage.MailProvider = (*Client)(nil)
	_ subscription.API    = (*Client)(nil)
)

// NewService builds the Gmail API service on a token source backed by
// the durable credential store.
func NewService(ctx context.Context, tokens oauth2.TokenSource) (*gmailapi.Service, error) {
	srv, err := gmailapi.NewService(ctx, option.WithTokenSource(tokens))
	if err != nil {
		return nil, fmt.Errorf("cannot create gmail service: %w", err)
	}
	return srv, nil
}

func NewClient(srv *gmailapi.Service, topicName string) *Client {
	return &Client{
		srv:   srv,
		topic: topicName,
	}
}

// ListJunk returns ids of the most recent spam-labeled messages.
func (c *Client) ListJunk(ctx context.Context, max int64) ([]string, error) {
	resp, err := c.srv.Users.Messages.List("me").
		LabelIds(SpamLabel).
		MaxResults(max).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list spam messages: %w", err)
	}

	var ids []string
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}
	return ids, nil
}

// FetchSummary fetches metadata only, enough for classification.
func (c *Client) FetchSummary(ctx context.Context, messageID string) (mail.Summary, error) {
	msg, err := c.srv.Users.Messages.Get("me", messageID).
		Format("metadata").
		MetadataHeaders("From", "Subject").
		Context(ctx).
		Do()
	if err != nil {
		return mail.Summary{}, fmt.Errorf("gmail get message: %w", err)
	}

	return mail.NewSummary(messageID, extractHeader(msg, "From"), extractHeader(msg, "Subject"), msg.Snippet), nil
}

// Delete permanently removes a message. Gmail answers 404 for an id
// that is already gone, which counts as success.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	err := c.srv.Users.Messages.Delete("me", messageID).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("gmail delete message: %w", err)
	}
	return nil
}

// SpamAddedSince returns ids of spam messages added after historyID.
// Used by the Pub/Sub ingress to resolve a notification into
// candidate messages.
func (c *Client) SpamAddedSince(ctx context.Context, historyID uint64) ([]string, error) {
	resp, err := c.srv.Users.History.List("me").
		StartHistoryId(historyID).
		HistoryTypes("messageAdded").
		LabelId(SpamLabel).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("gmail history list: %w", err)
	}

	var ids []string
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message != nil {
				ids = append(ids, added.Message.Id)
			}
		}
	}
	return ids, nil
}

// Create registers a watch on the spam label. Gmail watches have no
// server-side id; re-issuing the call is both create and renew.
func (c *Client) Create(ctx context.Context, sub mail.Subscription) (mail.Subscription, error) {
	expiration, err := c.watch(ctx)
	if err != nil {
		return mail.Subscription{}, err
	}

	return mail.Subscription{
		ID:              "gmail-watch",
		Resource:        sub.Resource,
		Expiration:      expiration,
		NotificationURL: sub.NotificationURL,
		ClientState:     sub.ClientState,
	}, nil
}

// Renew re-issues the watch. A Gmail watch cannot report "not found",
// so renewal never lapses; the until argument is advisory only since
// Gmail picks its own expiration.
func (c *Client) Renew(ctx context.Context, _ string, _ time.Time) (time.Time, error) {
	return c.watch(ctx)
}

func (c *Client) watch(ctx context.Context) (time.Time, error) {
	req := &gmailapi.WatchRequest{
		TopicName: c.topic,
		LabelIds:  []string{SpamLabel},
	}

	resp, err := c.srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return time.Time{}, fmt.Errorf("gmail watch: %w", err)
	}
	return time.UnixMilli(resp.Expiration), nil
}

func extractHeader(msg *gmailapi.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
