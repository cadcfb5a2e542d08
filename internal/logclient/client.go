// Package logclient talks to the log service over HTTP on behalf of the
// console commands.
package logclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alecgard/logdesk/internal/usagelog"
)

// maxBodySize caps response bodies.
const maxBodySize = 64 << 20

// APIError is a failure reported by the service in the response envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// envelope is the service's reply wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Options tunes the transport.
type Options struct {
	Timeout time.Duration
	Rate    float64 // requests per second, 0 disables pacing
	Burst   int

	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

// Client sends requests to the log service. It paces requests with a token
// bucket and stops calling a service that keeps failing at the transport
// level until the breaker's timeout elapses.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client for the service at baseURL authenticating with token.
func New(baseURL, token string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "logdesk-" + c.baseURL,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// Logs fetches log records from path with an encoded query.
func (c *Client) Logs(ctx context.Context, path, rawQuery string) ([]*usagelog.Record, error) {
	var recs []*usagelog.Record
	if err := c.do(ctx, http.MethodGet, path, rawQuery, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Stat fetches the quota and token summary from path with an encoded query.
func (c *Client) Stat(ctx context.Context, path, rawQuery string) (*usagelog.Stat, error) {
	var stat usagelog.Stat
	if err := c.do(ctx, http.MethodGet, path, rawQuery, &stat); err != nil {
		return nil, err
	}
	return &stat, nil
}

// Search looks up records whose content or names contain keyword.
func (c *Client) Search(ctx context.Context, path, keyword string) ([]*usagelog.Record, error) {
	return c.Logs(ctx, path, "keyword="+url.QueryEscape(keyword))
}

// DeleteBefore asks the service to purge logs created before ts and returns
// the number removed.
func (c *Client) DeleteBefore(ctx context.Context, ts int64) (int64, error) {
	var n int64
	q := "target_timestamp=" + strconv.FormatInt(ts, 10)
	if err := c.do(ctx, http.MethodDelete, "/api/log/", q, &n); err != nil {
		return 0, err
	}
	return n, nil
}

type response struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, method, path, rawQuery string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	u := c.baseURL + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("server error: %d", resp.StatusCode)
		}
		return &response{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("log service unavailable: %w", err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	r := res.(*response)

	var env envelope
	if err := json.Unmarshal(r.body, &env); err != nil {
		return fmt.Errorf("%s %s: unexpected response (status %d): %w", method, path, r.status, err)
	}
	if !env.Success {
		return &APIError{StatusCode: r.status, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding %s data: %w", path, err)
	}
	return nil
}
