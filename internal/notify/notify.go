package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loykin/fleetmon/internal/record"
)

// Notifier delivers a text message to an external channel.
// Deliveries are best-effort: the engine logs send errors and keeps
// going, so implementations should not retry aggressively.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Webhook posts messages to a Slack-compatible incoming webhook URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) (*Webhook, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

func (w *Webhook) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook send: status %d", resp.StatusCode)
	}
	w.logger.Debug("notification sent", "bytes", len(payload))
	return nil
}

// Nop discards all messages. Used when a channel is not configured.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }

// Recorder collects messages in memory for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return nil
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// FormatDisconnects renders the alert sent when records are archived:
// one line per vanished client with its account and channel.
func FormatDisconnects(recs []record.Record) string {
	var b strings.Builder
	b.WriteString("Disconnects detected:\n")
	for _, rec := range recs {
		fmt.Fprintf(&b, "%s - Channel: %s (pid %s)\n", rec.AccountID, rec.Channel, rec.ProcessID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatCountDrop renders the warning for a raw process-count drop.
func FormatCountDrop(processName string, before, after int) string {
	return fmt.Sprintf("Process count for %s dropped: before %d, now %d", processName, before, after)
}
