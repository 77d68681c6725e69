// Package identity calls the identity service: identify, login, logout and
// modify. Failures are reported as *Error carrying one of the HTTPCode
// values, mirroring the codes the service's other clients use.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/rzbill/mptrack/internal/transport"
	"github.com/rzbill/mptrack/pkg/log"
	"github.com/rzbill/mptrack/pkg/types"
)

// HTTPCode is the outcome code of an identity call. Negative values are
// client-side conditions; positive values are HTTP statuses.
type HTTPCode int

const (
	NoHTTPCoverage                 HTTPCode = -1
	ActiveIdentityRequest          HTTPCode = -2
	ActiveSession                  HTTPCode = -3
	ValidationIssue                HTTPCode = -4
	NativeIdentityRequest          HTTPCode = -5
	LoggingDisabledOrMissingAPIKey HTTPCode = -6
	TooManyRequests                HTTPCode = 429
	Success                        HTTPCode = 200
)

// Error is returned for every failed identity call.
type Error struct {
	Method  Method
	Code    HTTPCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("identity: %s: code %d: %s", e.Method, e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Method is an identity endpoint.
type Method string

const (
	Identify Method = "identify"
	Login    Method = "login"
	Logout   Method = "logout"
	Modify   Method = "modify"
)

// Request is the caller-facing input of an identity call.
type Request struct {
	UserIdentities map[types.IdentityType]string
}

// Validate checks that every identity type is known.
func (r Request) Validate() error {
	for t := range r.UserIdentities {
		if !t.Valid() {
			return fmt.Errorf("unknown identity type %d", int(t))
		}
	}
	return nil
}

// Known returns the identities keyed by wire name.
func (r Request) Known() map[string]string {
	out := make(map[string]string, len(r.UserIdentities))
	for t, v := range r.UserIdentities {
		out[t.Name()] = v
	}
	return out
}

// Call carries the per-instance context of an identity request.
type Call struct {
	BaseURL      string
	APIKey       string
	Development  bool
	DeviceID     string
	PreviousMPID string
	// Current holds the identities known for PreviousMPID; used by Modify.
	Current map[string]string
}

// Result is a successful identity response.
type Result struct {
	MPID         string
	PreviousMPID string
	IsLoggedIn   bool
	IsEphemeral  bool
	Identities   map[string]string
	HTTPCode     HTTPCode
}

type clientSDK struct {
	Platform   string `json:"platform"`
	SDKVendor  string `json:"sdk_vendor"`
	SDKVersion string `json:"sdk_version"`
}

type requestBody struct {
	ClientSDK          clientSDK         `json:"client_sdk"`
	Environment        string            `json:"environment"`
	RequestID          string            `json:"request_id"`
	RequestTimestampMs int64             `json:"request_timestamp_ms"`
	PreviousMPID       string            `json:"previous_mpid,omitempty"`
	KnownIdentities    map[string]string `json:"known_identities,omitempty"`
	IdentityChanges    []identityChange  `json:"identity_changes,omitempty"`
}

type identityChange struct {
	OldValue     *string `json:"old_value"`
	NewValue     *string `json:"new_value"`
	IdentityType string  `json:"identity_type"`
}

type responseBody struct {
	MPID        string `json:"mpid"`
	IsLoggedIn  bool   `json:"is_logged_in"`
	IsEphemeral bool   `json:"is_ephemeral"`
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     log.Logger
}

// Client performs identity calls. At most one call per apiKey is in flight.
type Client struct {
	http     *resty.Client
	log      log.Logger
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
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
		http:     hc,
		log:      opts.Logger.With(log.Component("identity")),
		inflight: make(map[string]struct{}),
	}
}

// URL returns the endpoint of method under baseURL.
func URL(baseURL string, method Method, mpid string) string {
	base := strings.TrimRight(baseURL, "/")
	if method == Modify {
		return base + "/" + mpid + "/modify"
	}
	return base + "/" + string(method)
}

// Do performs one identity call.
func (c *Client) Do(ctx context.Context, method Method, call Call, req Request) (Result, error) {
	if call.APIKey == "" {
		return Result{}, &Error{Method: method, Code: LoggingDisabledOrMissingAPIKey, Message: "missing api key"}
	}
	if err := req.Validate(); err != nil {
		return Result{}, &Error{Method: method, Code: ValidationIssue, Message: err.Error()}
	}
	if method == Modify && call.PreviousMPID == "" {
		return Result{}, &Error{Method: method, Code: ValidationIssue, Message: "modify requires a current user"}
	}
	if !c.acquire(call.APIKey) {
		return Result{}, &Error{Method: method, Code: ActiveIdentityRequest, Message: "identity request already in flight"}
	}
	defer c.release(call.APIKey)

	body := c.buildBody(method, call, req)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-mp-key", call.APIKey).
		SetBody(body).
		Post(URL(call.BaseURL, method, call.PreviousMPID))
	if err != nil {
		return Result{}, &Error{Method: method, Code: NoHTTPCoverage, Err: err}
	}
	if resp.IsError() {
		code := HTTPCode(resp.StatusCode())
		return Result{}, &Error{Method: method, Code: code, Message: strings.TrimSpace(string(resp.Body()))}
	}
	var rb responseBody
	if err := json.Unmarshal(resp.Body(), &rb); err != nil {
		return Result{}, &Error{Method: method, Code: HTTPCode(resp.StatusCode()), Err: fmt.Errorf("decode: %w", err)}
	}
	if rb.MPID == "" {
		return Result{}, &Error{Method: method, Code: HTTPCode(resp.StatusCode()), Err: errors.New("response has no mpid")}
	}
	res := Result{
		MPID:         rb.MPID,
		PreviousMPID: call.PreviousMPID,
		IsLoggedIn:   rb.IsLoggedIn,
		IsEphemeral:  rb.IsEphemeral,
		Identities:   resultIdentities(method, call, req),
		HTTPCode:     HTTPCode(resp.StatusCode()),
	}
	c.log.Debug("identity call completed",
		log.Str("method", string(method)), log.Str("api_key", call.APIKey), log.Str("mpid", res.MPID))
	return res, nil
}

func (c *Client) buildBody(method Method, call Call, req Request) requestBody {
	env := "production"
	if call.Development {
		env = "development"
	}
	body := requestBody{
		ClientSDK:          clientSDK{Platform: "go", SDKVendor: "mptrack", SDKVersion: transport.SDKVersion},
		Environment:        env,
		RequestID:          uuid.NewString(),
		RequestTimestampMs: time.Now().UnixMilli(),
		PreviousMPID:       call.PreviousMPID,
	}
	if method == Modify {
		for name, newValue := range req.Known() {
			change := identityChange{IdentityType: name}
			if old, ok := call.Current[name]; ok {
				change.OldValue = &old
			}
			if newValue != "" {
				v := newValue
				change.NewValue = &v
			}
			body.IdentityChanges = append(body.IdentityChanges, change)
		}
		return body
	}
	known := req.Known()
	if call.DeviceID != "" {
		known["device_application_stamp"] = call.DeviceID
	}
	body.KnownIdentities = known
	return body
}

func resultIdentities(method Method, call Call, req Request) map[string]string {
	out := make(map[string]string)
	if method == Modify {
		for k, v := range call.Current {
			out[k] = v
		}
		for k, v := range req.Known() {
			if v == "" {
				delete(out, k)
				continue
			}
			out[k] = v
		}
		return out
	}
	for k, v := range req.Known() {
		out[k] = v
	}
	return out
}

func (c *Client) acquire(apiKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[apiKey]; busy {
		return false
	}
	c.inflight[apiKey] = struct{}{}
	return true
}

func (c *Client) release(apiKey string) {
	c.mu.Lock()
	delete(c.inflight, apiKey)
	c.mu.Unlock()
}
