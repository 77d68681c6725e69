package collector

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/mptrack/pkg/log"
)

const maxBodyBytes = 4 << 20

func (c *Collector) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/healthz", c.handleHealth)
	mux.HandleFunc("GET /JS/v2/{apiKey}/config", c.handleConfig)
	mux.HandleFunc("POST /JS/v2/{apiKey}/Events", c.handleEvents)
	mux.HandleFunc("POST /v1/{method}", c.handleIdentity)
	mux.HandleFunc("POST /v1/{mpid}/modify", c.handleModify)
	mux.HandleFunc("GET /_collector/requests", c.handleRequests)
}

// handleHealth always reports ok; the collector has no dependencies.
func (c *Collector) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleConfig serves the workspace token of an apiKey.
func (c *Collector) handleConfig(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("apiKey")
	c.st.record(Request{Kind: KindConfig, Method: r.Method, Path: r.URL.RequestURI(), APIKey: apiKey, At: time.Now()})
	if code, fail := c.st.shouldFail(KindConfig); fail {
		writeError(w, code, "injected failure")
		return
	}
	c.st.mu.Lock()
	token, ok := c.st.tokens[apiKey]
	c.st.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown api key")
		return
	}
	writeJSON(w, map[string]any{
		"workspaceToken": token,
		"env":            r.URL.Query().Get("env"),
	})
}

// handleEvents records an uploaded batch.
func (c *Collector) handleEvents(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("apiKey")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if code, fail := c.st.shouldFail(KindEvents); fail {
		writeError(w, code, "injected failure")
		return
	}
	var batch Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	c.st.record(Request{Kind: KindEvents, Method: r.Method, Path: r.URL.Path, APIKey: apiKey, Body: string(body), At: time.Now()})
	c.log.Debug("batch received", log.Str("api_key", apiKey), log.Int("messages", len(batch.Messages)))
	writeAccepted(w, map[string]any{
		"store": map[string]any{
			"lastBatchId": map[string]any{"Value": batch.ID, "Expires": time.Now().Add(24 * time.Hour).UnixMilli()},
		},
	})
}

type identityBody struct {
	PreviousMPID    string            `json:"previous_mpid"`
	KnownIdentities map[string]string `json:"known_identities"`
	IdentityChanges []struct {
		NewValue     *string `json:"new_value"`
		IdentityType string  `json:"identity_type"`
	} `json:"identity_changes"`
}

// handleIdentity answers identify, login and logout.
func (c *Collector) handleIdentity(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	switch method {
	case "identify", "login", "logout":
	default:
		writeError(w, http.StatusNotFound, "unknown identity method")
		return
	}
	body, apiKey, ok := c.readIdentity(w, r)
	if !ok {
		return
	}
	known := body.KnownIdentities
	if method == "logout" {
		known = map[string]string{"device_application_stamp": known["device_application_stamp"]}
	}
	mpid := c.mpidFor(apiKey, known)
	loggedIn := method == "login" || (method == "identify" && (known["customerid"] != "" || known["email"] != ""))
	writeJSON(w, map[string]any{"mpid": mpid, "is_logged_in": loggedIn, "is_ephemeral": false})
}

// handleModify keeps the mpid and acknowledges the identity changes.
func (c *Collector) handleModify(w http.ResponseWriter, r *http.Request) {
	mpid := r.PathValue("mpid")
	body, _, ok := c.readIdentity(w, r)
	if !ok {
		return
	}
	if len(body.IdentityChanges) == 0 {
		writeError(w, http.StatusBadRequest, "no identity changes")
		return
	}
	writeJSON(w, map[string]any{"mpid": mpid, "is_logged_in": true, "is_ephemeral": false})
}

func (c *Collector) readIdentity(w http.ResponseWriter, r *http.Request) (identityBody, string, bool) {
	apiKey := r.Header.Get("x-mp-key")
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return identityBody{}, "", false
	}
	c.st.record(Request{Kind: KindIdentity, Method: r.Method, Path: r.URL.Path, APIKey: apiKey, Body: string(raw), At: time.Now()})
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "missing x-mp-key")
		return identityBody{}, "", false
	}
	if code, fail := c.st.shouldFail(KindIdentity); fail {
		writeError(w, code, "injected failure")
		return identityBody{}, "", false
	}
	var body identityBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return identityBody{}, "", false
	}
	return body, apiKey, true
}

// mpidFor assigns a stable mpid per apiKey and identity set. Named
// identities win over the device stamp.
func (c *Collector) mpidFor(apiKey string, known map[string]string) string {
	keys := make([]string, 0, len(known))
	for k, v := range known {
		if v == "" || (k == "device_application_stamp" && len(known) > 1) {
			continue
		}
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	userKey := apiKey + "|" + strings.Join(keys, "&")

	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if mpid, ok := c.st.users[userKey]; ok {
		return mpid
	}
	mpid := strconv.FormatInt(c.st.nextMPID, 10)
	c.st.nextMPID++
	c.st.users[userKey] = mpid
	return mpid
}

// handleRequests lists recorded requests, optionally for one apiKey.
func (c *Collector) handleRequests(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("apiKey")
	limit := parseLimit(r.URL.Query().Get("limit"))
	all := c.Requests()
	out := make([]Request, 0, len(all))
	for _, req := range all {
		if apiKey != "" && req.APIKey != apiKey {
			continue
		}
		out = append(out, req)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, map[string]any{"requests": out})
}
