// Package log is mptrack's structured logging facade.
//
// Loggers take typed Fields and are backed by log/slog through a handler
// that formats entries as text or JSON and fans them out to one or more
// outputs. Child loggers created with With share their parent's level and
// outputs.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("instance"), log.Str(log.InstanceKey, "default_instance"))
//	l.Info("workspace resolved", log.Str("store_key", "mprtcl-v4_wt1"))
//
// ApplyConfig builds a logger from a declarative Config, including key
// redaction and per-message sampling. RedirectStdLog routes the standard
// library logger (used by Pebble) through a Logger.
package log
