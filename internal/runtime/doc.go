// Package runtime wires the storage driver, configuration and outbound
// clients shared by every tracker instance. The tracker owns one Runtime;
// instances borrow its collaborators and never close them.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Storage.Backend = "pebble"
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	store := rt.OpenStore(persist.Namespace{WorkspaceToken: "wt"})
package runtime
