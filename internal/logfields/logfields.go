package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBot        = "bot"
	KeyRoute      = "routing_key"
	KeyRecipient  = "recipient"
	KeyCommand    = "command"
	KeyLoop       = "loop"
	KeyWatchKey   = "watch_key"
	KeyPartition  = "partition"
	KeyMilestone  = "milestone"
	KeyAnchor     = "anchor"
	KeyDevice     = "device"
	KeyPath       = "path"
	KeySubject    = "subject"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Bot(name string) slog.Attr       { return slog.String(KeyBot, name) }
func Route(key string) slog.Attr      { return slog.String(KeyRoute, key) }
func Recipient(id string) slog.Attr   { return slog.String(KeyRecipient, id) }
func Command(cmd string) slog.Attr    { return slog.String(KeyCommand, cmd) }
func Loop(name string) slog.Attr      { return slog.String(KeyLoop, name) }
func WatchKey(key string) slog.Attr   { return slog.String(KeyWatchKey, key) }
func Partition(p string) slog.Attr    { return slog.String(KeyPartition, p) }
func Milestone(name string) slog.Attr { return slog.String(KeyMilestone, name) }
func Anchor(ts string) slog.Attr      { return slog.String(KeyAnchor, ts) }
func Device(name string) slog.Attr    { return slog.String(KeyDevice, name) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
