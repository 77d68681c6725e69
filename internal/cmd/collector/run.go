package collectorrun

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rzbill/mptrack/internal/collector"
	"github.com/rzbill/mptrack/internal/metrics"
	logpkg "github.com/rzbill/mptrack/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing
var getenv = os.Getenv

// Options configures Run.
type Options struct {
	Addr string
	// MetricsAddr serves /metrics when set.
	MetricsAddr     string
	WorkspaceTokens map[string]string
	// Ready, when set, receives the bound address once listening.
	Ready func(addr string)
}

// ParseTokens parses "apiKey=token" pairs.
func ParseTokens(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid token mapping %q; use apiKey=token", p)
		}
		out[k] = v
	}
	return out, nil
}

// Run serves the collector and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &logpkg.Config{
		Level:  getenvDefault("MPTRACK_LOG_LEVEL", "info"),
		Format: getenvDefault("MPTRACK_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(cfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	logpkg.RedirectStdLog(procLogger)

	procLogger.Info("starting collector",
		logpkg.Str("addr", opts.Addr),
		logpkg.Str("metrics", opts.MetricsAddr),
		logpkg.Int("workspaces", len(opts.WorkspaceTokens)),
	)

	coll := collector.New(collector.Options{WorkspaceTokens: opts.WorkspaceTokens, Logger: procLogger})

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		runErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if runErr == nil {
			runErr = err
		}
		errMu.Unlock()
		stop()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coll.ListenAndServe(sctx, opts.Addr); err != nil && sctx.Err() == nil {
			procLogger.Error("collector error", logpkg.Err(err))
			fail(err)
		}
	}()

	var msrv *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.New().Handler())
		msrv = &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				procLogger.Error("metrics error", logpkg.Err(err))
				fail(err)
			}
		}()
	}

	if opts.Ready != nil {
		go notifyReady(sctx, coll, opts.Ready)
	}

	<-sctx.Done()
	if msrv != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = msrv.Shutdown(cctx)
		cancel()
	}
	wg.Wait()
	return runErr
}

func notifyReady(ctx context.Context, coll *collector.Collector, ready func(string)) {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		if addr := coll.Addr(); addr != "" {
			ready(addr)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
