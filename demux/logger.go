package demux

import (
	"context"
	"log/slog"

	"github.com/swastic7/oxtcp/internal"
)

// logger embeds a *slog.Logger and exposes level-named helpers, matching
// tcp.logger's shape so EventLoop's call sites read the same way the TCB's do.
type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) { internal.LogAttrs(l.log, slog.LevelError, msg, attrs...) }
func (l logger) warn(msg string, attrs ...slog.Attr)  { internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...) }
func (l logger) trace(msg string, attrs ...slog.Attr) { internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...) }

func (l logger) enabled(lvl slog.Level) bool {
	return internal.HeapAllocDebugging || (l.log != nil && l.log.Handler().Enabled(context.Background(), lvl))
}

func (e *EventLoop) logerr(msg string, attrs ...slog.Attr) { e.logger.error(msg, attrs...) }
