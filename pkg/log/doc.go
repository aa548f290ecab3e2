// Package log provides the structured logging facade used across the
// queue engine and its servers.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and
// a Field type for structured context. Internally it is backed by the
// standard library's log/slog, so output format (text or JSON) and
// level come from the handler configured at construction.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.TextFormat),
//	)
//	l = l.With(log.Component("mq"))
//	l.Info("engine open", log.Str("dir", dir), log.Int("pageCap", 65536))
//
// Use ApplyConfig to build a logger from a declarative Config (level and
// format strings, typically sourced from the environment). NewNop
// returns a logger that discards everything, for tests.
package log
