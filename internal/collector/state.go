package collector

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Kind classifies a recorded request.
type Kind string

const (
	KindConfig   Kind = "config"
	KindEvents   Kind = "events"
	KindIdentity Kind = "identity"
)

// Request is one recorded request.
type Request struct {
	Kind   Kind      `json:"kind"`
	Method string    `json:"method"`
	Path   string    `json:"path"`
	APIKey string    `json:"apiKey"`
	Body   string    `json:"body,omitempty"`
	At     time.Time `json:"at"`
}

// Message is the part of an uploaded message the collector inspects.
type Message struct {
	Type          string         `json:"dt"`
	Name          string         `json:"n"`
	EventType     int            `json:"et"`
	SessionID     string         `json:"sid"`
	MPID          string         `json:"mpid"`
	APIKey        string         `json:"a"`
	Attrs         map[string]any `json:"attrs"`
	ProductAction *struct {
		Action string `json:"an"`
	} `json:"pd"`
}

// Batch is an uploaded events body.
type Batch struct {
	ID       string    `json:"id"`
	APIKey   string    `json:"apiKey"`
	Messages []Message `json:"messages"`
}

type state struct {
	mu       sync.Mutex
	requests []Request
	tokens   map[string]string
	failNext map[Kind]int
	failCode map[Kind]int
	users    map[string]string
	nextMPID int64
}

func newState() *state {
	return &state{
		tokens:   make(map[string]string),
		failNext: make(map[Kind]int),
		failCode: make(map[Kind]int),
		users:    make(map[string]string),
		nextMPID: 8_000_000_000_000_000_001,
	}
}

func (s *state) record(r Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r)
	s.mu.Unlock()
}

// shouldFail consumes one injected failure for kind.
func (s *state) shouldFail(kind Kind) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext[kind] <= 0 {
		return 0, false
	}
	s.failNext[kind]--
	return s.failCode[kind], true
}

// Requests returns a copy of every recorded request.
func (c *Collector) Requests() []Request {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	out := make([]Request, len(c.st.requests))
	copy(out, c.st.requests)
	return out
}

// EventRequests returns the events requests received for apiKey.
func (c *Collector) EventRequests(apiKey string) []Request {
	var out []Request
	for _, r := range c.Requests() {
		if r.Kind == KindEvents && r.APIKey == apiKey {
			out = append(out, r)
		}
	}
	return out
}

// Batches decodes every events request received for apiKey.
func (c *Collector) Batches(apiKey string) []Batch {
	var out []Batch
	for _, r := range c.EventRequests(apiKey) {
		var b Batch
		if err := json.Unmarshal([]byte(r.Body), &b); err == nil {
			out = append(out, b)
		}
	}
	return out
}

// RequestsMentioning counts events requests for apiKey whose body contains s.
func (c *Collector) RequestsMentioning(apiKey, s string) int {
	n := 0
	for _, r := range c.EventRequests(apiKey) {
		if strings.Contains(r.Body, s) {
			n++
		}
	}
	return n
}

// CountEvents counts uploaded messages for apiKey named name.
func (c *Collector) CountEvents(apiKey, name string) int {
	n := 0
	for _, b := range c.Batches(apiKey) {
		for _, m := range b.Messages {
			if m.Name == name {
				n++
			}
		}
	}
	return n
}

// CountPurchases counts uploaded purchase product actions for apiKey.
func (c *Collector) CountPurchases(apiKey string) int {
	n := 0
	for _, b := range c.Batches(apiKey) {
		for _, m := range b.Messages {
			if m.ProductAction != nil && m.ProductAction.Action == "purchase" {
				n++
			}
		}
	}
	return n
}

// SetWorkspaceToken configures the token served for apiKey.
func (c *Collector) SetWorkspaceToken(apiKey, token string) {
	c.st.mu.Lock()
	c.st.tokens[apiKey] = token
	c.st.mu.Unlock()
}

// FailNext makes the next n requests of kind answer with status.
func (c *Collector) FailNext(kind Kind, n, status int) {
	c.st.mu.Lock()
	c.st.failNext[kind] = n
	c.st.failCode[kind] = status
	c.st.mu.Unlock()
}

// Clear forgets recorded requests and injected failures. Tokens are kept.
func (c *Collector) Clear() {
	c.st.mu.Lock()
	c.st.requests = nil
	c.st.failNext = make(map[Kind]int)
	c.st.failCode = make(map[Kind]int)
	c.st.mu.Unlock()
}
