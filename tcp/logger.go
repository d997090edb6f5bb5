package tcp

import (
	"context"
	"log/slog"

	"github.com/swastic7/oxtcp/internal"
)

// logger embeds a *slog.Logger and exposes level-named helpers so call sites
// read like a leveled logger without repeating slog.LevelX everywhere.
type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) { internal.LogAttrs(l.log, slog.LevelError, msg, attrs...) }
func (l logger) info(msg string, attrs ...slog.Attr)  { internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...) }
func (l logger) warn(msg string, attrs ...slog.Attr)  { internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...) }
func (l logger) debug(msg string, attrs ...slog.Attr) { internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...) }
func (l logger) trace(msg string, attrs ...slog.Attr) { internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...) }

func (l logger) enabled(lvl slog.Level) bool {
	return internal.HeapAllocDebugging || (l.log != nil && l.log.Handler().Enabled(context.Background(), lvl))
}

func (tcb *ControlBlock) logenabled(lvl slog.Level) bool { return tcb.logger.enabled(lvl) }

func (tcb *ControlBlock) logerr(msg string, attrs ...slog.Attr) { tcb.logger.error(msg, attrs...) }

func (tcb *ControlBlock) traceSnd(msg string) {
	tcb.trace(msg,
		slog.String("state", tcb._state.String()),
		slog.Uint64("pend", uint64(tcb.pending[0])),
		slog.Uint64("snd.nxt", uint64(tcb.snd.NXT)),
		slog.Uint64("snd.una", uint64(tcb.snd.UNA)),
		slog.Uint64("snd.wnd", uint64(tcb.snd.WND)),
	)
}

func (tcb *ControlBlock) traceRcv(msg string) {
	tcb.trace(msg,
		slog.String("state", tcb._state.String()),
		slog.Uint64("rcv.nxt", uint64(tcb.rcv.NXT)),
		slog.Uint64("rcv.wnd", uint64(tcb.rcv.WND)),
		slog.Bool("challenge", tcb.challengeAck),
	)
}

func (tcb *ControlBlock) traceSeg(msg string, seg Segment) {
	if tcb.logenabled(internal.LevelTrace) {
		tcb.trace(msg,
			slog.Uint64("seg.seq", uint64(seg.SEQ)),
			slog.Uint64("seg.ack", uint64(seg.ACK)),
			slog.Uint64("seg.wnd", uint64(seg.WND)),
			slog.String("seg.flags", seg.Flags.String()),
			slog.Uint64("seg.data", uint64(seg.DATALEN)),
		)
	}
}
