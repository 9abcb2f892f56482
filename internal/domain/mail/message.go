package mail

import "time"

// Summary is the lightweight view of a junk message handed to the
// classifier: enough to judge, cheap to fetch.
type Summary struct {
	ID       string
	Sender   string
	Subject  string
	Snippet  string
	Received time.Time
}

func NewSummary(id, sender, subject, snippet string) Summary {
	return Summary{
		ID:      id,
		Sender:  sender,
		Subject: subject,
		Snippet: snippet,
	}
}
