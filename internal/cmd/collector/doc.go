// Package collectorrun exposes the Run entrypoint used by the CLI to serve
// a local collection endpoint, handling logging setup and shutdown.
//
// Example:
//
//	opts := collectorrun.Options{Addr: ":8088", WorkspaceTokens: map[string]string{"apiKey1": "wtTest1"}}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = collectorrun.Run(ctx, opts)
package collectorrun
