package collector

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/mptrack/pkg/log"
)

func serve(t *testing.T, c *Collector, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)
	return w
}

func TestConfigServesWorkspaceToken(t *testing.T) {
	c := New(Options{WorkspaceTokens: map[string]string{"apiKey1": "wtTest1"}})

	w := serve(t, c, http.MethodGet, "/JS/v2/apiKey1/config?env=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "wtTest1", got["workspaceToken"])

	w = serve(t, c, http.MethodGet, "/JS/v2/nope/config?env=1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, c.Requests(), 2)
}

func TestEventsRecordedPerAPIKey(t *testing.T) {
	c := New(Options{})
	body := `{"id":"b1","apiKey":"apiKey2","messages":[{"dt":"e","n":"hi2","a":"apiKey2"},{"dt":"cm","n":"eCommerce - Purchase","pd":{"an":"purchase"}}]}`
	w := serve(t, c, http.MethodPost, "/JS/v2/apiKey2/Events", body, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"store"`)

	assert.Len(t, c.EventRequests("apiKey2"), 1)
	assert.Empty(t, c.EventRequests("apiKey1"))
	assert.Equal(t, 1, c.CountEvents("apiKey2", "hi2"))
	assert.Equal(t, 1, c.CountPurchases("apiKey2"))
	assert.Equal(t, 1, c.RequestsMentioning("apiKey2", "hi2"))

	w = serve(t, c, http.MethodPost, "/JS/v2/apiKey2/Events", "{", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFailNextInjectsStatus(t *testing.T) {
	c := New(Options{})
	c.FailNext(KindEvents, 1, http.StatusServiceUnavailable)
	body := `{"apiKey":"k","messages":[{"dt":"e","n":"x"}]}`

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, c, http.MethodPost, "/JS/v2/k/Events", body, nil).Code)
	assert.Equal(t, http.StatusAccepted, serve(t, c, http.MethodPost, "/JS/v2/k/Events", body, nil).Code)
	assert.Len(t, c.EventRequests("k"), 1)
}

func TestIdentityAssignsStableMPIDs(t *testing.T) {
	c := New(Options{})
	hdr := map[string]string{"x-mp-key": "apiKey1"}
	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var m map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
		return m
	}

	anon := decode(serve(t, c, http.MethodPost, "/v1/identify", `{"known_identities":{"device_application_stamp":"d1"}}`, hdr))
	assert.Equal(t, false, anon["is_logged_in"])

	login := decode(serve(t, c, http.MethodPost, "/v1/login", `{"known_identities":{"customerid":"c1","device_application_stamp":"d1"}}`, hdr))
	assert.Equal(t, true, login["is_logged_in"])
	assert.NotEqual(t, anon["mpid"], login["mpid"])

	again := decode(serve(t, c, http.MethodPost, "/v1/identify", `{"known_identities":{"customerid":"c1"}}`, hdr))
	assert.Equal(t, login["mpid"], again["mpid"])

	logout := decode(serve(t, c, http.MethodPost, "/v1/logout", `{"known_identities":{"device_application_stamp":"d1"}}`, hdr))
	assert.Equal(t, anon["mpid"], logout["mpid"])

	mpid := login["mpid"].(string)
	mod := decode(serve(t, c, http.MethodPost, "/v1/"+mpid+"/modify", `{"identity_changes":[{"new_value":"a@b.c","identity_type":"email"}]}`, hdr))
	assert.Equal(t, mpid, mod["mpid"])

	assert.Equal(t, http.StatusUnauthorized, serve(t, c, http.MethodPost, "/v1/identify", `{}`, nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, c, http.MethodPost, "/v1/other", `{}`, hdr).Code)
}

func TestRequestsEndpointFilters(t *testing.T) {
	c := New(Options{WorkspaceTokens: map[string]string{"a": "wa", "b": "wb"}})
	serve(t, c, http.MethodGet, "/JS/v2/a/config", "", nil)
	serve(t, c, http.MethodGet, "/JS/v2/b/config", "", nil)

	w := serve(t, c, http.MethodGet, "/_collector/requests?apiKey=b", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct{ Requests []Request }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Requests, 1)
	assert.Equal(t, "b", got.Requests[0].APIKey)

	c.Clear()
	assert.Empty(t, c.Requests())
}

func TestServerErrorsGoToLogger(t *testing.T) {
	var buf bytes.Buffer
	l := log.NewLogger(
		log.WithFormatter(&log.TextFormatter{DisableTimestamp: true}),
		log.WithOutput(log.NewWriterOutput(&buf)),
	)
	c := New(Options{Logger: l})
	require.NotNil(t, c.srv.ErrorLog)

	c.srv.ErrorLog.Printf("http: TLS handshake error from %s", "10.0.0.1:5000")
	out := buf.String()
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "http: TLS handshake error from 10.0.0.1:5000")
	assert.Contains(t, out, "component=collector")
}
