// Package transport uploads message batches to the events endpoint of one
// apiKey. Retryable failures (network errors, 5xx, 429) are retried with
// exponential backoff; anything else is returned to the caller, which keeps
// the batch in its outbox.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/rzbill/mptrack/pkg/log"
)

// ErrEmptyBatch is returned when Upload is called without messages.
var ErrEmptyBatch = errors.New("transport: empty batch")

// StatusError reports a non-2xx upload response.
type StatusError struct {
	APIKey     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: upload for %s: status %d", e.APIKey, e.StatusCode)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Observer is notified of every upload attempt outcome.
type Observer interface {
	ObserveUpload(apiKey string, messages int, d time.Duration, err error)
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	MaxRetries uint64
	BaseDelay  time.Duration
	HTTPClient *http.Client
	Logger     log.Logger
	Observer   Observer
}

// Client posts batches.
type Client struct {
	http      *resty.Client
	retries   uint64
	baseDelay time.Duration
	log       log.Logger
	observer  Observer
}

// New builds a Client. Zero options use a 10s timeout, 3 retries and a
// 100ms base delay.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	hc := resty.New()
	if opts.HTTPClient != nil {
		hc = resty.NewWithClient(opts.HTTPClient)
	}
	hc.SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{
		http:      hc,
		retries:   opts.MaxRetries,
		baseDelay: opts.BaseDelay,
		log:       opts.Logger.With(log.Component("transport")),
		observer:  opts.Observer,
	}
}

// EventsURL returns the events endpoint for apiKey under baseURL.
func EventsURL(baseURL, apiKey string) string {
	return strings.TrimRight(baseURL, "/") + "/JS/v2/" + apiKey + "/Events"
}

// Upload sends batch and returns the decoded response.
func (c *Client) Upload(ctx context.Context, baseURL string, batch Batch) (Response, error) {
	if len(batch.Messages) == 0 {
		return Response{}, ErrEmptyBatch
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return Response{}, fmt.Errorf("transport: encode batch: %w", err)
	}
	url := EventsURL(baseURL, batch.APIKey)
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.baseDelay))

	var out Response
	start := time.Now()
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(err)
		}
		if resp.IsError() {
			serr := &StatusError{APIKey: batch.APIKey, StatusCode: resp.StatusCode()}
			if serr.Retryable() {
				c.log.Debug("retrying upload", log.Str("api_key", batch.APIKey), log.Int("status", serr.StatusCode))
				return retry.RetryableError(serr)
			}
			return serr
		}
		out = Response{}
		if len(resp.Body()) > 0 {
			if err := json.Unmarshal(resp.Body(), &out); err != nil {
				c.log.Warn("ignoring undecodable upload response", log.Str("api_key", batch.APIKey), log.Err(err))
				out = Response{}
			}
		}
		return nil
	})
	if c.observer != nil {
		c.observer.ObserveUpload(batch.APIKey, len(batch.Messages), time.Since(start), err)
	}
	if err != nil {
		return Response{}, err
	}
	return out, nil
}
