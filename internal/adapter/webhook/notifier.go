// Package webhook delivers alert and heartbeat events as JSON POSTs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/couchcryptid/storm-data-shared/retry"
)

// Notifier posts events to a single URL. It implements domain.Notifier.
//
// Network errors and 5xx responses are retried up to Attempts times with
// doubling backoff; 4xx responses fail immediately. Retries block the caller,
// so the monitor delivers through a notify.Queue.
type Notifier struct {
	URL        string
	HTTP       *http.Client
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func New(url string, timeout time.Duration) *Notifier {
	return &Notifier{
		URL:        url,
		HTTP:       &http.Client{Timeout: timeout},
		Attempts:   3,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 4 * time.Second,
	}
}

// envelope wraps every payload so receivers can switch on kind.
type envelope struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	Payload any    `json:"payload"`
}

func (n *Notifier) NotifyAlert(ctx context.Context, event domain.AlertEvent) error {
	return n.post(ctx, envelope{Kind: "alert", Text: AlertText(event), Payload: event})
}

func (n *Notifier) NotifyHeartbeat(ctx context.Context, event domain.HeartbeatEvent) error {
	text := fmt.Sprintf("[heartbeat] rain monitor alive (%s %s, %d locations)", event.Date, event.Scheduled, event.Locations)
	return n.post(ctx, envelope{Kind: "heartbeat", Text: text, Payload: event})
}

// AlertText renders a one-line human summary of an alert.
func AlertText(e domain.AlertEvent) string {
	return fmt.Sprintf("[%s] %s: %.1f mm/h >= %.1f mm/h (%s, lead %dm, valid %s UTC)",
		e.Severity, e.Location, e.MMPerHour, e.Threshold, e.Method, e.Slot.LeadMinutes,
		e.Slot.ValidTime.UTC().Format("2006-01-02 15:04"))
}

func (n *Notifier) post(ctx context.Context, v envelope) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	backoff := n.Backoff
	attempts := max(n.Attempts, 1)
	for i := 1; ; i++ {
		retryable, err := n.send(ctx, b)
		if err == nil {
			return nil
		}
		if !retryable || i >= attempts {
			return err
		}
		if !retry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("%w (gave up: %v)", err, ctx.Err())
		}
		backoff = retry.NextBackoff(backoff, n.MaxBackoff)
	}
}

// send performs one POST and reports whether a failure is worth retrying.
func (n *Notifier) send(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := n.HTTP.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return res.StatusCode >= 500, fmt.Errorf("webhook status %d: %s", res.StatusCode, string(resp))
	}
	return false, nil
}
