package instance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/mptrack/internal/collector"
	"github.com/rzbill/mptrack/internal/config"
	"github.com/rzbill/mptrack/internal/persist"
	"github.com/rzbill/mptrack/internal/runtime"
)

type env struct {
	coll *collector.Collector
	srv  *httptest.Server
	rt   *runtime.Runtime
	mem  *persist.Memory
	gate chan struct{}
	// arrived receives once a gated config request reaches the server.
	arrived chan struct{}
}

// newEnv starts a collector serving apiKeyN -> wtTestN. When gated, config
// requests block until release is called.
func newEnv(t *testing.T, gated bool) *env {
	t.Helper()
	e := &env{
		coll: collector.New(collector.Options{WorkspaceTokens: map[string]string{
			"apiKey1": "wtTest1", "apiKey2": "wtTest2", "apiKey3": "wtTest3",
		}}),
		mem: persist.NewMemory(),
	}
	h := e.coll.Handler()
	if gated {
		e.gate = make(chan struct{})
		e.arrived = make(chan struct{}, 1)
		inner := h
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/config") {
				select {
				case e.arrived <- struct{}{}:
				default:
				}
				select {
				case <-e.gate:
				case <-r.Context().Done():
					return
				}
			}
			inner.ServeHTTP(w, r)
		})
	}
	e.srv = httptest.NewServer(h)
	t.Cleanup(e.srv.Close)
	rt, err := runtime.Open(runtime.Options{Config: e.config(), Driver: e.mem})
	require.NoError(t, err)
	e.rt = rt
	return e
}

func (e *env) release() { close(e.gate) }

func (e *env) config() config.Config {
	cfg := config.Default()
	cfg.CDNBaseURL = e.srv.URL
	cfg.IdentityURL = e.srv.URL + "/v1"
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func (e *env) start(t *testing.T, name, apiKey string, mutate func(*config.Config)) *Instance {
	t.Helper()
	cfg := e.config()
	if mutate != nil {
		mutate(&cfg)
	}
	in, err := New(Options{Name: name, APIKey: apiKey, Config: cfg, Runtime: e.rt})
	require.NoError(t, err)
	t.Cleanup(func() { _ = in.Close() })
	in.Start()
	return in
}

func (e *env) waitArrived(t *testing.T) {
	t.Helper()
	select {
	case <-e.arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("config request never arrived")
	}
}

func waitReady(t *testing.T, in *Instance) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, in.WaitReady(ctx))
}

func flush(t *testing.T, in *Instance) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, in.Flush(ctx))
}
