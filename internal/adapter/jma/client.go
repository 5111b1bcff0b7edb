package jma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/observability"
	"github.com/jonboulle/clockwork"
)

// DefaultBaseURL is the root of the JMA nowcast tile tree.
const DefaultBaseURL = "https://www.jma.go.jp/bosai/jmatile/data/nowc"

const (
	defaultUserAgent = "rain-nowcast-monitor/1.0"
	maxBodyBytes     = 4 << 20
)

// Client implements domain.IssuanceSource and domain.TileSource against the
// JMA nowcast tile server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	ttl        time.Duration
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu    sync.Mutex
	times map[domain.Product]cachedTimes
}

type cachedTimes struct {
	issuances []domain.Issuance
	fetchedAt time.Time
}

// NewClient creates a JMA client. ttl bounds how long targetTimes metadata is reused.
func NewClient(baseURL string, timeout, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: defaultUserAgent,
		ttl:       ttl,
		clock:     clockwork.NewRealClock(),
		metrics:   metrics,
		logger:    logger,
		times:     make(map[domain.Product]cachedTimes),
	}
}

// Issuances returns the entries of targetTimes_{product}.json, served from
// cache while younger than the TTL.
func (c *Client) Issuances(ctx context.Context, product domain.Product) ([]domain.Issuance, error) {
	c.mu.Lock()
	cached, ok := c.times[product]
	c.mu.Unlock()
	if ok && c.clock.Since(cached.fetchedAt) < c.ttl {
		c.metrics.TargetTimesRequests.WithLabelValues(string(product), "cached").Inc()
		return cached.issuances, nil
	}

	u := fmt.Sprintf("%s/targetTimes_%s.json", c.baseURL, product)
	body, err := c.get(ctx, u)
	if err != nil {
		c.metrics.TargetTimesRequests.WithLabelValues(string(product), "error").Inc()
		return nil, fmt.Errorf("fetch target times %s: %w", product, err)
	}

	issuances, err := parseTargetTimes(body)
	if err != nil {
		c.metrics.TargetTimesRequests.WithLabelValues(string(product), "error").Inc()
		return nil, fmt.Errorf("parse target times %s: %w", product, err)
	}

	c.mu.Lock()
	c.times[product] = cachedTimes{issuances: issuances, fetchedAt: c.clock.Now()}
	c.mu.Unlock()
	c.metrics.TargetTimesRequests.WithLabelValues(string(product), "ok").Inc()
	return issuances, nil
}

// FetchTile tries each URL pattern in order and returns the first response
// that is a PNG. Every failure, including timeouts, moves on to the next pattern.
func (c *Client) FetchTile(ctx context.Context, slot domain.TimeSlot, coord domain.TileCoord) (domain.Tile, error) {
	var lastErr error
	attempts := 0
	for _, p := range tilePatterns {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		attempts++
		u := p.build(c.baseURL, slot, coord)

		start := c.clock.Now()
		body, err := c.get(ctx, u)
		c.metrics.TileFetchDuration.Observe(c.clock.Since(start).Seconds())
		if err == nil {
			err = checkPNG(body)
		}
		if err != nil {
			c.metrics.TileRequests.WithLabelValues(p.name, outcome(err)).Inc()
			c.logger.Debug("tile candidate failed", "pattern", p.name, "url", u, "error", err)
			lastErr = err
			continue
		}

		c.metrics.TileRequests.WithLabelValues(p.name, "ok").Inc()
		return domain.Tile{Coord: coord, Slot: slot, Data: body, SourceURL: u}, nil
	}
	return domain.Tile{}, &domain.TileNotFoundError{Coord: coord, Slot: slot, Attempts: attempts, Err: lastErr}
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck // drain for keep-alive
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("jma: status %d", e.code) }

var errNotPNG = errors.New("response is not a PNG image")

func checkPNG(body []byte) error {
	if _, err := png.DecodeConfig(bytes.NewReader(body)); err != nil {
		return fmt.Errorf("%w: %v", errNotPNG, err)
	}
	return nil
}

func outcome(err error) string {
	var se *statusError
	switch {
	case errors.As(err, &se) && se.code == http.StatusNotFound:
		return "not_found"
	case errors.Is(err, errNotPNG):
		return "invalid"
	default:
		return "error"
	}
}

// targetTime is one object entry of targetTimes_N*.json.
type targetTime struct {
	BaseTime  string `json:"basetime"`
	ValidTime string `json:"validtime"`
}

// parseTargetTimes accepts both the object form and the older bare-string form.
// Entries that do not parse are skipped.
func parseTargetTimes(data []byte) ([]domain.Issuance, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make([]domain.Issuance, 0, len(raw))
	for _, item := range raw {
		var tt targetTime
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			tt.BaseTime = s
		} else if err := json.Unmarshal(item, &tt); err != nil {
			continue
		}

		base, err := domain.ParseStamp(tt.BaseTime)
		if err != nil {
			continue
		}
		valid := base
		if tt.ValidTime != "" {
			if v, err := domain.ParseStamp(tt.ValidTime); err == nil {
				valid = v
			}
		}
		out = append(out, domain.Issuance{BaseTime: base, ValidTime: valid})
	}
	return out, nil
}
