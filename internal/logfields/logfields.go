package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyConnectionID = "connection_id"
	KeyPipeName     = "pipe_name"
	KeyReason       = "reason"
	KeyRunID        = "run_id"
	KeyGenerator    = "generator"
	KeyGroup        = "group"
	KeyProject      = "project"
	KeyConfig       = "configuration"
	KeyPlatform     = "platform"
	KeyPath         = "path"
	KeyCount        = "count"
	KeyDurationMS   = "duration_ms"
	KeyKeepAlive    = "keep_alive"
	KeyPID          = "pid"
	KeyPoolKey      = "pool_key"
	KeyError        = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func ConnectionID(id string) slog.Attr { return slog.String(KeyConnectionID, id) }
func PipeName(n string) slog.Attr      { return slog.String(KeyPipeName, n) }
func Reason(r string) slog.Attr        { return slog.String(KeyReason, r) }
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Generator(n string) slog.Attr     { return slog.String(KeyGenerator, n) }
func Group(i int) slog.Attr            { return slog.Int(KeyGroup, i) }
func Project(p string) slog.Attr       { return slog.String(KeyProject, p) }
func Configuration(c string) slog.Attr { return slog.String(KeyConfig, c) }
func Platform(p string) slog.Attr      { return slog.String(KeyPlatform, p) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func PID(pid int) slog.Attr            { return slog.Int(KeyPID, pid) }
func PoolKey(k string) slog.Attr       { return slog.String(KeyPoolKey, k) }

// Duration reports d in fractional milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

// KeepAlive renders a keep-alive window; a negative value means "no timeout".
func KeepAlive(d time.Duration) slog.Attr {
	if d < 0 {
		return slog.String(KeyKeepAlive, "infinite")
	}
	return slog.String(KeyKeepAlive, d.String())
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
