package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"junkfilter/internal/application/credential"
	"junkfilter/internal/application/subscription"
	"junkfilter/internal/application/triage"
	"junkfilter/internal/domain/mail"
)

// Store is the durable key-value layer shared by all invocations. It
// backs the credential, subscription, and processed-record ports of
// the application layer.
type Store struct {
	db *sql.DB
}

var (
	_ credential.Storage = (*Store)(nil)
	_ triage.RecordStore = (*Store)(nil)
	_ subscription.Store = subscriptionView{}
)

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	schema := `
CREATE TABLE IF NOT EXISTS credentials (
    account TEXT PRIMARY KEY,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS subscriptions (
    resource TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL,
    expiration INTEGER NOT NULL,
    notification_url TEXT NOT NULL,
    client_state TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS processed_messages (
    message_id TEXT PRIMARY KEY,
    outcome TEXT NOT NULL,
    processed_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the single credential record and its version.
func (s *Store) Load(ctx context.Context) (mail.Credential, int64, error) {
	var cred mail.Credential
	var expiresAt, version int64

	err := s.db.QueryRowContext(ctx,
		`SELECT account, access_token, refresh_token, expires_at, version
		 FROM credentials LIMIT 1`,
	).Scan(&cred.Account, &cred.AccessToken, &cred.RefreshToken, &expiresAt, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return mail.Credential{}, 0, credential.ErrNotFound
	}
	if err != nil {
		return mail.Credential{}, 0, fmt.Errorf("query credential: %w", err)
	}

	cred.ExpiresAt = time.Unix(expiresAt, 0)
	return cred, version, nil
}

// Store writes the credential conditionally on prevVersion, the
// store's compare-and-swap primitive. prevVersion 0 inserts a new
// record and fails on ErrVersionConflict if one already exists.
func (s *Store) Store(ctx context.Context, cred mail.Credential, prevVersion int64) error {
	if prevVersion == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO credentials (account, access_token, refresh_token, expires_at, version)
			 VALUES (?, ?, ?, ?, 1)`,
			cred.Account, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt.Unix(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return credential.ErrVersionConflict
			}
			return fmt.Errorf("insert credential: %w", err)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE credentials
		 SET access_token = ?, refresh_token = ?, expires_at = ?, version = version + 1
		 WHERE account = ? AND version = ?`,
		cred.AccessToken, cred.RefreshToken, cred.ExpiresAt.Unix(),
		cred.Account, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("credential rows affected: %w", err)
	}
	if affected == 0 {
		return credential.ErrVersionConflict
	}
	return nil
}

// ReplaceCredential overwrites the credential table unconditionally.
// Only the interactive setup flow uses it.
func (s *Store) ReplaceCredential(ctx context.Context, cred mail.Credential) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return s.Store(ctx, cred, 0)
}

// Subscriptions exposes the store through the subscription port,
// whose Load signature differs from the credential one.
func (s *Store) Subscriptions() subscription.Store {
	return subscriptionView{s}
}

type subscriptionView struct {
	s *Store
}

func (v subscriptionView) Load(ctx context.Context, resource string) (mail.Subscription, error) {
	return v.s.LoadSubscription(ctx, resource)
}

func (v subscriptionView) Save(ctx context.Context, sub mail.Subscription) error {
	return v.s.SaveSubscription(ctx, sub)
}

// LoadSubscription returns the stored subscription for a resource.
func (s *Store) LoadSubscription(ctx context.Context, resource string) (mail.Subscription, error) {
	var sub mail.Subscription
	var expiration int64

	err := s.db.QueryRowContext(ctx,
		`SELECT subscription_id, resource, expiration, notification_url, client_state
		 FROM subscriptions WHERE resource = ?`,
		resource,
	).Scan(&sub.ID, &sub.Resource, &expiration, &sub.NotificationURL, &sub.ClientState)

	if errors.Is(err, sql.ErrNoRows) {
		return mail.Subscription{}, subscription.ErrNotFound
	}
	if err != nil {
		return mail.Subscription{}, fmt.Errorf("query subscription: %w", err)
	}

	sub.Expiration = time.Unix(expiration, 0)
	return sub, nil
}

// SaveSubscription upserts the subscription for its resource. Blind
// overwrite is acceptable here: a renewal race is harmless, one of
// two concurrent renewals wins.
func (s *Store) SaveSubscription(ctx context.Context, sub mail.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO subscriptions
		 (resource, subscription_id, expiration, notification_url, client_state, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.Resource, sub.ID, sub.Expiration.Unix(), sub.NotificationURL, sub.ClientState,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// TerminalOutcomes returns the terminal outcome per message id,
// omitting pending and unknown ids.
func (s *Store) TerminalOutcomes(ctx context.Context, messageIDs []string) (map[string]mail.Outcome, error) {
	out := make(map[string]mail.Outcome, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, outcome FROM processed_messages
		 WHERE outcome != 'pending' AND message_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query processed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, outcome string
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, fmt.Errorf("scan processed: %w", err)
		}
		out[id] = mail.Outcome(outcome)
	}
	return out, rows.Err()
}

// Record writes a processed-message record with add-if-absent
// semantics: a terminal outcome is written once and never downgraded;
// pending may later be upgraded to terminal.
func (s *Store) Record(ctx context.Context, messageID string, outcome mail.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, outcome, processed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET
		     outcome = excluded.outcome,
		     processed_at = excluded.processed_at
		 WHERE processed_messages.outcome = 'pending'`,
		messageID, outcome.String(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Prune drops processed records older than the cutoff. Messages long
// gone from the junk folder need no idempotency record.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_messages WHERE processed_at < ?`,
		olderThan.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
