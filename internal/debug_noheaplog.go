//go:build !debugheaplog

package internal

import (
	"context"
	"log/slog"
)

// HeapAllocDebugging is false in ordinary builds; see debug_heaplog.go for
// the debugheaplog-tagged alternative this mirrors.
const HeapAllocDebugging = false

// LogEnabled reports whether l would actually emit a record at lvl, so
// callers can skip building expensive attrs for a disabled level.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), lvl)
}

// LogAttrs is the production logging path shared by every package logger
// here; the debugheaplog build tag swaps it for one that also watches for
// unexpected heap growth on the logging call itself.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	l.LogAttrs(context.Background(), level, msg, attrs...)
}
