// Package remoteconfig fetches the per-apiKey workspace configuration from
// the CDN. Concurrent fetches for the same key are coalesced and successful
// results are cached for the life of the client.
package remoteconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/rzbill/mptrack/pkg/log"
)

// ErrMissingWorkspaceToken is wrapped when the response has no token.
var ErrMissingWorkspaceToken = errors.New("remoteconfig: response has no workspaceToken")

// Error reports a failed fetch. Callers degrade to a locally configured token.
type Error struct {
	APIKey     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remoteconfig: fetch %s: status %d: %v", e.APIKey, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remoteconfig: fetch %s: %v", e.APIKey, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config is the subset of the workspace configuration the tracker uses.
type Config struct {
	WorkspaceToken string `json:"workspaceToken"`
	// Raw keeps the full document for callers that need more.
	Raw json.RawMessage `json:"-"`
}

// Request identifies one configuration document.
type Request struct {
	BaseURL     string
	APIKey      string
	Development bool
}

func (r Request) url() string {
	return strings.TrimRight(r.BaseURL, "/") + "/JS/v2/" + r.APIKey + "/config"
}

func (r Request) cacheKey() string {
	env := "0"
	if r.Development {
		env = "1"
	}
	return r.BaseURL + "|" + r.APIKey + "|" + env
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	CacheSize  int
	RetryCount int
	HTTPClient *http.Client
	Logger     log.Logger
}

// Client fetches remote configuration.
type Client struct {
	http  *resty.Client
	cache *lru.Cache[string, Config]
	group singleflight.Group
	log   log.Logger
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	cache, err := lru.New[string, Config](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	hc := resty.New()
	if opts.HTTPClient != nil {
		hc = resty.NewWithClient(opts.HTTPClient)
	}
	hc.SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)
	return &Client{
		http:  hc,
		cache: cache,
		log:   opts.Logger.With(log.Component("remoteconfig")),
	}, nil
}

func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests
}

// Fetch returns the configuration for req, from cache when present.
// Concurrent callers share one request. The shared request is detached from
// any single caller's ctx and bounded by the client timeout; a caller whose
// ctx ends stops waiting without failing the others.
func (c *Client) Fetch(ctx context.Context, req Request) (Config, error) {
	key := req.cacheKey()
	if cfg, ok := c.cache.Get(key); ok {
		return cfg, nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		cfg, err := c.fetch(shared, req)
		if err != nil {
			return Config{}, err
		}
		c.cache.Add(key, cfg)
		return cfg, nil
	})
	select {
	case <-ctx.Done():
		return Config{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Config{}, res.Err
		}
		return res.Val.(Config), nil
	}
}

// Purge drops every cached configuration.
func (c *Client) Purge() { c.cache.Purge() }

func (c *Client) fetch(ctx context.Context, req Request) (Config, error) {
	env := "0"
	if req.Development {
		env = "1"
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("env", env).
		Get(req.url())
	if err != nil {
		return Config{}, &Error{APIKey: req.APIKey, Err: err}
	}
	if resp.IsError() {
		return Config{}, &Error{APIKey: req.APIKey, StatusCode: resp.StatusCode(), Err: errors.New(resp.Status())}
	}
	var cfg Config
	if err := json.Unmarshal(resp.Body(), &cfg); err != nil {
		return Config{}, &Error{APIKey: req.APIKey, StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode: %w", err)}
	}
	if cfg.WorkspaceToken == "" {
		return Config{}, &Error{APIKey: req.APIKey, StatusCode: resp.StatusCode(), Err: ErrMissingWorkspaceToken}
	}
	cfg.Raw = append(json.RawMessage(nil), resp.Body()...)
	c.log.Debug("fetched workspace config", log.Str("api_key", req.APIKey), log.Str("workspace_token", cfg.WorkspaceToken))
	return cfg, nil
}
