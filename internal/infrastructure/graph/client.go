package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"junkfilter/internal/application/triage"
	"junkfilter/internal/domain/mail"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	// JunkResource is the subscription resource for the junk folder,
	// using the well-known folder name so it works in any locale.
	JunkResource = "me/mailFolders('junkemail')/messages"

	requestTimeout = 30 * time.Second
)

// TokenSource serves a credential valid beyond the safety margin.
// Satisfied by the credential manager.
type TokenSource interface {
	Token(ctx context.Context) (mail.Credential, error)
}

// Client is the Microsoft Graph adapter for the junk folder: list,
// summarize and delete messages, and manage the push subscription.
type Client struct {
	http    *http.Client
	baseURL string
	tokens  TokenSource
}

var _ triage.MailProvider = (*Client)(nil)

func NewClient(tokens TokenSource) *Client {
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: defaultBaseURL,
		tokens:  tokens,
	}
}

// WithBaseURL points the client at a different endpoint. Used in tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimSuffix(base, "/")
	return c
}

type messageList struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
}

// ListJunk returns the ids of the most recent junk-folder messages,
// newest first.
func (c *Client) ListJunk(ctx context.Context, max int64) ([]string, error) {
	query := url.Values{}
	query.Set("$top", fmt.Sprintf("%d", max))
	query.Set("$orderby", "receivedDateTime desc")
	query.Set("$select", "id")

	var list messageList
	if err := c.get(ctx, "/me/mailFolders/junkemail/messages?"+query.Encode(), &list); err != nil {
		return nil, fmt.Errorf("list junk messages: %w", err)
	}

	ids := make([]string, 0, len(list.Value))
	for _, m := range list.Value {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	BodyPreview      string `json:"bodyPreview"`
	ReceivedDateTime string `json:"receivedDateTime"`
}

// FetchSummary returns the lightweight view of one message.
func (c *Client) FetchSummary(ctx context.Context, messageID string) (mail.Summary, error) {
	query := url.Values{}
	query.Set("$select", "id,subject,from,bodyPreview,receivedDateTime")

	var msg graphMessage
	if err := c.get(ctx, "/me/messages/"+url.PathEscape(messageID)+"?"+query.Encode(), &msg); err != nil {
		return mail.Summary{}, fmt.Errorf("get message %s: %w", messageID, err)
	}

	summary := mail.NewSummary(messageID, msg.From.EmailAddress.Address, msg.Subject, msg.BodyPreview)
	if t, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		summary.Received = t
	}
	return summary, nil
}

// Delete removes a message. A 404 means it is already gone, which is
// success for our purposes.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/me/messages/"+url.PathEscape(messageID), nil)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("delete message %s: %s", messageID, readGraphError(resp))
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph api: %s", readGraphError(resp))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	cred, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request: %w", err)
	}
	return resp, nil
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func readGraphError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ge graphError
	if err := json.Unmarshal(data, &ge); err == nil && ge.Error.Code != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", resp.StatusCode, ge.Error.Code, ge.Error.Message)
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
