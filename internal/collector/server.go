package collector

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rzbill/mptrack/pkg/log"
)

// Options configures a Collector.
type Options struct {
	// WorkspaceTokens seeds the apiKey to token mapping served by the config
	// endpoint. Unknown apiKeys get 404.
	WorkspaceTokens map[string]string
	Logger          log.Logger
}

// Collector serves the collection endpoints.
type Collector struct {
	st  *state
	log log.Logger
	mux *http.ServeMux
	srv *http.Server

	mu  sync.Mutex
	lis net.Listener
}

// New builds a Collector with its routes registered.
func New(opts Options) *Collector {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	c := &Collector{
		st:  newState(),
		log: opts.Logger.With(log.Component("collector")),
		mux: http.NewServeMux(),
	}
	for k, v := range opts.WorkspaceTokens {
		c.st.tokens[k] = v
	}
	c.registerRoutes(c.mux)
	c.srv = &http.Server{
		Handler:           cors(c.mux),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.ToStdLogger(c.log, log.ErrorLevel),
	}
	return c
}

// Handler returns the HTTP handler, for httptest servers.
func (c *Collector) Handler() http.Handler { return c.srv.Handler }

// ListenAndServe serves on addr until ctx is done.
func (c *Collector) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lis = l
	c.mu.Unlock()
	c.log.Info("collector listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- c.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once listening.
func (c *Collector) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lis == nil {
		return ""
	}
	return c.lis.Addr().String()
}

// Close stops the listener.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lis != nil {
		_ = c.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-mp-key")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
