// Package notify posts the weekly KPI summary to a Slack-compatible
// incoming webhook, optionally letting a language model draft the text.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/series"
	"github.com/tietoa/kpi-cli/pkg/anthropic"
)

// Message is the webhook payload.
type Message struct {
	Text string `json:"text"`
}

// WebhookOption configures the webhook client.
type WebhookOption func(*Webhook)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) WebhookOption {
	return func(w *Webhook) { w.http = hc }
}

// Webhook posts messages to one incoming-webhook URL.
type Webhook struct {
	url  string
	http *http.Client
}

func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Post(ctx context.Context, msg Message) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "notify: marshal message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: post webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return eris.New(fmt.Sprintf("notify: webhook HTTP %d: %s", resp.StatusCode, body))
	}
	return nil
}

// Notifier builds and delivers the weekly summary.
type Notifier struct {
	hook  *Webhook
	llm   anthropic.Client
	model string
}

// NewNotifier wires a notifier. llm may be nil; the plain-text summary
// is then sent as is.
func NewNotifier(hook *Webhook, llm anthropic.Client, llmModel string) *Notifier {
	return &Notifier{hook: hook, llm: llm, model: llmModel}
}

// SendWeeklySummary formats the totals and diagnostics and posts them.
// Drafting failures fall back to the plain summary rather than losing
// the notification.
func (n *Notifier) SendWeeklySummary(ctx context.Context, totals []series.Total, diagnostics []model.Record) error {
	text := FormatSummary(totals, diagnostics)

	if n.llm != nil {
		drafted, err := n.draft(ctx, text)
		if err != nil {
			zap.L().Warn("notify: drafting failed, sending plain summary", zap.Error(err))
		} else {
			text = drafted
		}
	}
	return n.hook.Post(ctx, Message{Text: text})
}

func (n *Notifier) draft(ctx context.Context, summary string) (string, error) {
	resp, err := n.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     n.model,
		MaxTokens: 1024,
		System: "You write short weekly business updates for an internal chat channel. " +
			"Keep every number exactly as given. Two paragraphs at most.",
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "Write this week's update from these figures:\n\n" + summary,
		}},
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", eris.New("notify: empty draft")
	}
	return text, nil
}

// FormatSummary renders subtype totals and open diagnostics as plain
// text, stable across runs for identical input.
func FormatSummary(totals []series.Total, diagnostics []model.Record) string {
	sums := map[model.Subtype]float64{}
	for _, t := range totals {
		sums[t.Subtype] += t.Value
	}
	subtypes := make([]model.Subtype, 0, len(sums))
	for st := range sums {
		subtypes = append(subtypes, st)
	}
	sort.Slice(subtypes, func(i, j int) bool { return subtypes[i] < subtypes[j] })

	var b strings.Builder
	b.WriteString("KPI totals for the reporting window:\n")
	for _, st := range subtypes {
		fmt.Fprintf(&b, "  %s: %.1f\n", st, sums[st])
	}

	if len(diagnostics) > 0 {
		byReason := map[model.Subtype]int{}
		for _, d := range diagnostics {
			byReason[d.Subtype]++
		}
		reasons := make([]model.Subtype, 0, len(byReason))
		for r := range byReason {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

		fmt.Fprintf(&b, "%d sales cases need attention:\n", len(diagnostics))
		for _, r := range reasons {
			fmt.Fprintf(&b, "  %s: %d\n", r, byReason[r])
		}
	}
	return b.String()
}
