package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"junkfilter/internal/application/triage"
	"junkfilter/internal/domain/mail"
)

const systemPrompt = `You are filtering a mail account's junk folder. The decision is asymmetric:
deleting legitimate mail is much worse than keeping spam. Only flag the
ABSOLUTE most heinous spam for deletion.

DELETE only:
- Obvious phishing/scams (fake verification, fake cloud storage warnings)
- Casino promos and gambling bait
- Dangerous malware/fraud attempts
- Clearly fake sender addresses and fake giveaway bait

KEEP everything else, including:
- Legitimate service notifications
- Newsletters and marketing from real companies
- Job alerts and recruitment emails
- Local business marketing
- Financial service updates
- Anything you are not sure about

Respond with ONLY a pure JSON array, without markdown and without backticks.
One object per input message, in any order:
[{"id":"<message id>","delete":true,"reason":"<short reason>"}, ...]`

// Client classifies junk-mail batches with the OpenAI chat API. The
// model is advisory only: configured override rules are applied on
// top of its verdicts before anything is deleted.
type Client struct {
	api   openai.Client
	model string
	rules Rules
}

var _ triage.Classifier = (*Client)(nil)

func NewClient(apiKey, model string, rules Rules) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &Client{
		api:   client,
		model: model,
		rules: rules,
	}, nil
}

type verdict struct {
	ID     string `json:"id"`
	Delete bool   `json:"delete"`
	Reason string `json:"reason"`
}

// Classify returns one decision per message, keyed by message id.
// Transport or parse failures surface as ErrClassificationUnavailable
// so the pipeline fails closed on the whole batch.
func (c *Client) Classify(ctx context.Context, batch []mail.Summary) ([]mail.Decision, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(formatBatch(batch)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai api error: %v", triage.ErrClassificationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", triage.ErrClassificationUnavailable)
	}

	verdicts, err := parseVerdicts(resp.Choices[0].Message.Content)
	if err != nil {
		log.Printf("LLM parse error: %v", err)
		return nil, fmt.Errorf("%w: %v", triage.ErrClassificationUnavailable, err)
	}

	byID := make(map[string]verdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.ID] = v
	}

	decisions := make([]mail.Decision, 0, len(batch))
	for _, s := range batch {
		v, ok := byID[s.ID]
		if !ok {
			// Model skipped it; keep by default.
			v = verdict{ID: s.ID, Delete: false}
		}
		decisions = append(decisions, c.rules.Apply(s, mail.Decision{
			MessageID: s.ID,
			Delete:    v.Delete,
			Rationale: v.Reason,
		}))
	}
	return decisions, nil
}

func formatBatch(batch []mail.Summary) string {
	var b strings.Builder
	b.WriteString("Here are the junk messages:\n\n")
	for _, s := range batch {
		fmt.Fprintf(&b, "ID: %s\nFROM: %s\nSUBJECT: %s\n", s.ID, s.Sender, s.Subject)
		if s.Snippet != "" {
			fmt.Fprintf(&b, "PREVIEW: %s\n", truncate(s.Snippet, 200))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func parseVerdicts(text string) ([]verdict, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var out []verdict
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("cannot parse JSON: %v (raw=%s)", err, truncate(text, 300))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
