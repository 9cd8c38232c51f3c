// Package slack posts urgent calls to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/triage"
)

const (
	maxTextLen   = 3000
	httpTimeout  = 10 * time.Second
	DefaultQueue = 64
)

// Notifier queues records at or above a minimum priority and posts them to
// a webhook from a single worker. It implements triage.Notifier.
type Notifier struct {
	webhookURL  string
	client      *http.Client
	logger      log.Logger
	minPriority triage.Priority
	queue       chan triage.Record
	onDrop      func()
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMinPriority sets the least urgent priority that is posted. Default RED.
func WithMinPriority(p triage.Priority) Option {
	return func(n *Notifier) {
		if p.Valid() {
			n.minPriority = p
		}
	}
}

// WithQueueSize bounds the number of records waiting to be posted.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan triage.Record, size)
		}
	}
}

// WithDropHook is called for each record discarded because the queue is full.
func WithDropHook(fn func()) Option {
	return func(n *Notifier) {
		if fn != nil {
			n.onDrop = fn
		}
	}
}

// WithHTTPClient replaces the webhook client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

// New creates a Slack notifier. If webhookURL is empty, Publish and Send are no-ops.
func New(webhookURL string, logger log.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	n := &Notifier{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: httpTimeout},
		logger:      logger,
		minPriority: triage.PriorityRed,
		queue:       make(chan triage.Record, DefaultQueue),
		onDrop:      func() {},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// Publish enqueues rec for the worker without blocking. Records below the
// minimum priority are ignored; a full queue drops the record.
func (n *Notifier) Publish(ctx context.Context, rec triage.Record) {
	if !n.Enabled() || !rec.Priority.AtLeast(n.minPriority) {
		return
	}
	select {
	case n.queue <- rec:
	default:
		n.onDrop()
		n.logger.Warn(ctx, "slack queue full, dropping notification",
			"triage_id", rec.ID,
			"priority", rec.Priority,
		)
	}
}

// Run posts queued records until ctx is done. Records still queued at that
// point are not sent.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if pending := len(n.queue); pending > 0 {
				n.logger.Warn(context.WithoutCancel(ctx), "slack worker stopping with queued notifications", "pending", pending)
			}
			return
		case rec := <-n.queue:
			if err := n.Send(ctx, rec); err != nil {
				n.logger.Error(ctx, err, "slack notification failed", "triage_id", rec.ID)
			}
		}
	}
}

// Send posts rec to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, rec triage.Record) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(rec))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r triage.Record) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			summaryBlock(r),
			{"type": "divider"},
			transcriptBlock(r),
			contextBlock(r),
		},
	}
}

func headerBlock(r triage.Record) map[string]any {
	text := fmt.Sprintf("%s CODE %s: %s", priorityEmoji(r.Priority), r.Priority, r.Department)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r triage.Record) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %s", r.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Department:* %s", r.Department),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %d%%", r.Confidence),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(r triage.Record) map[string]any {
	text := truncate(r.Summary, maxTextLen)
	if text == "" {
		text = "_No summary available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n%s", text),
		},
	}
}

func transcriptBlock(r triage.Record) map[string]any {
	text := strings.TrimSpace(truncate(r.Transcript, maxTextLen))
	if text == "" {
		text = "_empty_"
	} else {
		text = "> " + strings.ReplaceAll(text, "\n", "\n> ")
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Caller*\n%s", text),
		},
	}
}

func contextBlock(r triage.Record) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("beacon • call %s • %s", r.ID, r.Timestamp.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func priorityEmoji(p triage.Priority) string {
	switch p {
	case triage.PriorityRed:
		return "\U0001f534" // red circle
	case triage.PriorityOrange:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
