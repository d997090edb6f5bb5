//go:build debugheaplog

package internal

import (
	"log/slog"
	"runtime"
	"time"
	"unsafe"
)

// HeapAllocDebugging is true only under the debugheaplog build tag, which
// swaps LogAttrs for a variant that prints every call (bypassing the
// handler's own level filter) and flags any heap growth that happens
// in between, to catch an accidental allocation on what should be a
// zero-alloc hot path.
const HeapAllocDebugging = true

const timeLayout = "[01-02 15:04:05.000]"

var timeScratch [len(timeLayout) * 2]byte

// LogEnabled always reports true here: the whole point of this build is to
// see every log call, not just the ones a handler would normally pass.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return true
}

// LogAttrs prints msg and attrs directly to stderr via the allocation-free
// print builtins, then checks whether the call itself grew the heap.
func LogAttrs(_ *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	n := len(time.Now().AppendFormat(timeScratch[:0], timeLayout))
	LogAllocs(msg)

	print("time=", unsafe.String(&timeScratch[0], n), " ", levelTag(level), msg)
	for _, a := range attrs {
		printAttr(a)
	}
	println()

	allocMu.Lock()
	runtime.ReadMemStats(&allocStats)
	if lastAllocs != allocStats.TotalAlloc {
		print("[heaplog] allocation occurred while logging ", msg)
		println()
	}
	lastAllocs = allocStats.TotalAlloc
	lastMallocs = allocStats.Mallocs
	allocMu.Unlock()
}

func levelTag(level slog.Level) string {
	switch {
	case level == LevelTrace:
		return "TRACE "
	case level < slog.LevelDebug:
		return "SEQS "
	default:
		return level.String() + " "
	}
}

func printAttr(a slog.Attr) {
	switch a.Value.Kind() {
	case slog.KindString:
		print(" ", a.Key, "=", a.Value.String())
	case slog.KindInt64:
		print(" ", a.Key, "=", a.Value.Int64())
	case slog.KindUint64:
		print(" ", a.Key, "=", a.Value.Uint64())
	case slog.KindBool:
		print(" ", a.Key, "=", a.Value.Bool())
	}
}
