// Package httpc provides the resilient HTTP client used for every
// upstream call: per-host circuit breakers, bounded retries with jittered
// exponential backoff, and a self-adjusting connection pool.
package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the client. Zero fields are replaced with defaults in New.
type Config struct {
	Timeout            time.Duration
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	BreakerThreshold   int
	BreakerRecovery    time.Duration
	PoolMin            int
	PoolMax            int
	PoolInitial        int
	PoolAdjustInterval time.Duration
	PoolHighWater      float64
	PoolLowWater       float64
	// Token, when set, is sent as a bearer credential on every request
	// and switches the accepted JSON media type to the API-specific one.
	Token string
}

func (cfg *Config) fillDefaults() {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerRecovery <= 0 {
		cfg.BreakerRecovery = 60 * time.Second
	}
	if cfg.PoolMin <= 0 {
		cfg.PoolMin = 10
	}
	if cfg.PoolMax < cfg.PoolMin {
		cfg.PoolMax = 100
	}
	if cfg.PoolInitial < cfg.PoolMin || cfg.PoolInitial > cfg.PoolMax {
		cfg.PoolInitial = cfg.PoolMin
	}
	if cfg.PoolAdjustInterval <= 0 {
		cfg.PoolAdjustInterval = 30 * time.Second
	}
	if cfg.PoolHighWater <= 0 || cfg.PoolHighWater >= 1 {
		cfg.PoolHighWater = 0.8
	}
	if cfg.PoolLowWater <= 0 || cfg.PoolLowWater >= cfg.PoolHighWater {
		cfg.PoolLowWater = 0.3
	}
}

// Response is a fully buffered HTTP response. Buffering keeps pool
// in-flight accounting exact: once a Response is returned, no caller
// holds a connection from the pool that produced it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is a resilient HTTP client safe for concurrent use.
type Client struct {
	cfg      Config
	logger   zerolog.Logger
	breakers *breakerRegistry
	now      func() time.Time

	active atomic.Int64
	peak   atomic.Int64
	total  atomic.Int64
	failed atomic.Int64

	mu         sync.Mutex // guards pool swap, adjustment gate, and the EMA
	pool       *pool
	lastAdjust time.Time
	emaRT      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock sets a custom clock function (for testing). It also drives
// the per-host circuit breakers.
func WithClock(fn func() time.Time) Option {
	return func(c *Client) { c.now = fn }
}

// New creates a resilient client.
func New(cfg Config, opts ...Option) *Client {
	cfg.fillDefaults()
	c := &Client{
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.breakers = newBreakerRegistry(
		WithBreakerThreshold(cfg.BreakerThreshold),
		WithBreakerRecovery(cfg.BreakerRecovery),
		WithBreakerClock(c.now),
	)
	c.pool = newPool(cfg.PoolInitial, min(cfg.PoolInitial/2, 20))
	c.lastAdjust = c.now()
	return c
}

// Get performs a GET request through the breaker/retry/pool pipeline.
func (c *Client) Get(ctx context.Context, rawurl string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawurl, nil, nil)
}

// Post performs a POST request through the breaker/retry/pool pipeline.
func (c *Client) Post(ctx context.Context, rawurl, contentType string, body []byte) (*Response, error) {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return c.do(ctx, http.MethodPost, rawurl, h, body)
}

// FetchText fetches a URL and returns its body as a string.
func (c *Client) FetchText(ctx context.Context, rawurl string) (string, error) {
	h := http.Header{}
	h.Set("Accept", "text/plain, text/markdown;q=0.9, */*;q=0.1")
	resp, err := c.do(ctx, http.MethodGet, rawurl, h, nil)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// FetchBytes fetches a URL and returns its raw body.
func (c *Client) FetchBytes(ctx context.Context, rawurl string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, rawurl, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchJSON fetches a URL and decodes its JSON body into v.
func (c *Client) FetchJSON(ctx context.Context, rawurl string, v any) error {
	resp, err := c.GetJSON(ctx, rawurl)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("httpc: decode %s: %w", rawurl, err)
	}
	return nil
}

// GetJSON performs a GET with the JSON accept header, which depends on
// whether an API credential is configured.
func (c *Client) GetJSON(ctx context.Context, rawurl string) (*Response, error) {
	h := http.Header{}
	if c.cfg.Token != "" {
		h.Set("Accept", "application/vnd.api+json")
	} else {
		h.Set("Accept", "application/json")
	}
	return c.do(ctx, http.MethodGet, rawurl, h, nil)
}

// CircuitBreakerStatus returns the breaker snapshot for a URL's host.
func (c *Client) CircuitBreakerStatus(rawurl string) (BreakerStatus, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return BreakerStatus{}, fmt.Errorf("httpc: parse url %q: %w", rawurl, err)
	}
	return c.breakers.get(hostKey(u)).status(u.Host), nil
}

// BreakerSnapshot returns the state of every known host breaker.
func (c *Client) BreakerSnapshot() []BreakerStatus {
	return c.breakers.snapshot()
}

// PoolStats returns a snapshot of connection pool utilization.
func (c *Client) PoolStats() PoolStats {
	c.mu.Lock()
	maxConns := c.pool.maxConns
	last := c.lastAdjust
	ema := c.emaRT
	c.mu.Unlock()
	active := c.active.Load()
	return PoolStats{
		ActiveRequests:  active,
		PeakRequests:    c.peak.Load(),
		TotalRequests:   c.total.Load(),
		FailedRequests:  c.failed.Load(),
		AvgResponseTime: ema,
		MaxConns:        maxConns,
		PoolUtilization: float64(active) / float64(maxConns),
		LastAdjustment:  last,
	}
}

// Close drains the active pool. In-flight requests finish first.
func (c *Client) Close() {
	c.mu.Lock()
	p := c.pool
	c.mu.Unlock()
	p.drainAndClose()
}

func hostKey(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func (c *Client) do(ctx context.Context, method, rawurl string, header http.Header, body []byte) (*Response, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("httpc: parse url %q: %w", rawurl, err)
	}

	c.total.Add(1)
	active := c.active.Add(1)
	defer c.active.Add(-1)
	c.bumpPeak(active)

	c.maybeAdjustPool()

	br := c.breakers.get(hostKey(u))
	if !br.CanExecute() {
		c.failed.Add(1)
		return nil, &CircuitOpenError{Host: u.Host, RetryAfter: br.RetryAfter()}
	}

	start := c.now()
	resp, err := c.attempt(ctx, method, rawurl, header, body)
	if err != nil {
		c.failed.Add(1)
		// A caller that gave up is not evidence the host is down, but a
		// claimed half-open probe slot must still be handed back.
		if ctx.Err() != nil {
			br.OnCancel()
		} else {
			br.OnFailure()
		}
		return nil, err
	}
	br.OnSuccess()
	c.recordResponseTime(c.now().Sub(start))
	return resp, nil
}

// attempt runs the retry loop: transient transport errors are retried
// with jittered exponential backoff, status errors and non-transient
// failures are terminal on the first occurrence.
func (c *Client) attempt(ctx context.Context, method, rawurl string, header http.Header, body []byte) (*Response, error) {
	var lastErr error
	for i := 0; i < c.cfg.MaxAttempts; i++ {
		if i > 0 {
			if err := c.backoff(ctx, i-1); err != nil {
				return nil, lastErr
			}
		}

		p := c.currentPool()
		p.acquire()
		resp, err := c.roundTrip(ctx, p, method, rawurl, header, body)
		p.release()

		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("httpc: %s %s: %w", method, rawurl, err)
			}
			if isTransient(err) {
				lastErr = &TransientError{URL: rawurl, Err: err}
				c.logger.Warn().
					Str("url", rawurl).
					Int("attempt", i+1).
					Int("max_attempts", c.cfg.MaxAttempts).
					Err(err).
					Msg("transient fetch failure")
				continue
			}
			return nil, fmt.Errorf("httpc: %s %s: %w", method, rawurl, err)
		}

		if resp.StatusCode >= 400 {
			return nil, &StatusError{
				URL:        rawurl,
				StatusCode: resp.StatusCode,
				Status:     http.StatusText(resp.StatusCode),
			}
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) roundTrip(ctx context.Context, p *pool, method, rawurl string, header http.Header, body []byte) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	client := &http.Client{Transport: p.transport, Timeout: c.cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// retryDelay is base * 2^attempt with ±50% jitter. The result never
// exceeds the max delay, jitter included.
func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.cfg.RetryBaseDelay * (1 << uint(attempt))
	if d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	d = d/2 + time.Duration(rand.Int63n(int64(d)))
	if d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	return d
}

// backoff waits out the retry delay. Returns an error only when the
// context is cancelled mid-wait.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay(attempt)):
		return nil
	}
}

func (c *Client) bumpPeak(active int64) {
	for {
		peak := c.peak.Load()
		if active <= peak || c.peak.CompareAndSwap(peak, active) {
			return
		}
	}
}

func (c *Client) currentPool() *pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

const emaAlpha = 0.2

func (c *Client) recordResponseTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emaRT == 0 {
		c.emaRT = d
		return
	}
	c.emaRT = time.Duration(float64(c.emaRT)*(1-emaAlpha) + float64(d)*emaAlpha)
}

// maybeAdjustPool resizes the connection pool toward current demand, at
// most once per adjustment interval. The superseded pool drains in the
// background so in-flight requests keep their connections.
func (c *Client) maybeAdjustPool() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastAdjust) < c.cfg.PoolAdjustInterval {
		return
	}
	c.lastAdjust = now

	cur := c.pool.maxConns
	util := float64(c.active.Load()) / float64(cur)
	switch {
	case util > c.cfg.PoolHighWater && cur < c.cfg.PoolMax:
		next := min(max(cur+1, int(float64(cur)*1.5)), c.cfg.PoolMax)
		c.swapPoolLocked(next, min(next/2, 50), util)
	case util < c.cfg.PoolLowWater && cur > c.cfg.PoolMin:
		next := max(int(float64(cur)*0.8), c.cfg.PoolMin)
		if next >= cur {
			next = cur - 1
		}
		c.swapPoolLocked(next, min(next/2, 20), util)
	}
}

// swapPoolLocked must be called with c.mu held.
func (c *Client) swapPoolLocked(maxConns, keepAlive int, util float64) {
	old := c.pool
	c.pool = newPool(maxConns, keepAlive)
	go old.drainAndClose()
	c.logger.Info().
		Int("old_max", old.maxConns).
		Int("new_max", maxConns).
		Float64("utilization", util).
		Msg("resized connection pool")
}
