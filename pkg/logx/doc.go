// Package logx wraps zerolog behind a small Field-based API with
// hot-swappable sinks (console, JSON file, rate-limited chat forward).
package logx
