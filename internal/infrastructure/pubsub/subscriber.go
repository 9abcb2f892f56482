package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"cloud.google.com/go/pubsub"
)

// Notification is the Gmail push payload delivered through Pub/Sub.
type Notification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Subscriber receives Gmail push notifications. Delivery is
// at-least-once and history ids repeat across notifications; the
// durable processed-message records downstream make that safe, so
// every message is acked regardless of handler outcome.
type Subscriber struct {
	client         *pubsub.Client
	subscriptionID string
}

func NewSubscriber(ctx context.Context, projectID, subscriptionID string) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	return &Subscriber{
		client:         client,
		subscriptionID: subscriptionID,
	}, nil
}

// Listen blocks receiving notifications until ctx is canceled.
func (s *Subscriber) Listen(ctx context.Context, handler func(ctx context.Context, historyID uint64)) error {
	sub := s.client.Subscription(s.subscriptionID)

	log.Println("Pub/Sub listener started...")

	return sub.Receive(ctx, func(msgCtx context.Context, m *pubsub.Message) {
		notification, err := parseNotification(m.Data)
		if err != nil {
			log.Printf("Parse notification error: %v", err)
			m.Ack()
			return
		}

		log.Printf("New notification - %s (historyID: %d)", notification.EmailAddress, notification.HistoryID)
		handler(msgCtx, notification.HistoryID)

		m.Ack()
	})
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}

func parseNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &n, nil
}
