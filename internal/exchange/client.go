package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// AdapterConfig is the per-venue knob set. Zero values fall back to the
// venue's defaults.
type AdapterConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MinInterval time.Duration
	Disabled    bool
	HTTPClient  *http.Client
	Now         func() time.Time
}

// client is the HTTP plumbing shared by every adapter. The limiter is the only
// mutable state and is safe for concurrent use, so simultaneous aggregations
// hitting the same venue queue behind it instead of racing past it.
type client struct {
	venue      string
	baseURL    string
	disabled   bool
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

func newClient(venue string, cfg AdapterConfig, defaultURL string, defaultInterval time.Duration) client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	interval := cfg.MinInterval
	if interval <= 0 {
		interval = defaultInterval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return client{
		venue:      venue,
		baseURL:    base,
		disabled:   cfg.Disabled,
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		now:        now,
	}
}

func (c *client) Available() bool {
	return !c.disabled
}

// do waits for the limiter, sends req and decodes a 200 JSON body into out.
func (c *client) do(ctx context.Context, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", c.venue, err)
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.venue, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", c.venue, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response body: %w", c.venue, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", c.venue, err)
	}
	return nil
}

func (c *client) nowMillis() int64 {
	return c.now().UnixMilli()
}
