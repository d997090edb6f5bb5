package internal

import (
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"unsafe"
)

// LevelTrace sits below slog.LevelDebug for the per-segment/per-byte logging
// the TCP and demux packages emit on their hot path: chatty enough that it
// needs its own level rather than overloading Debug.
const LevelTrace slog.Level = slog.LevelDebug - 2

// printAllocDeltas controls whether LogAllocs formats through fmt-free print
// builtins (true, zero allocation) or a hand-rolled byte buffer (false). It
// is true in every build, the debugheaplog one included, so the byte-buffer
// path is never taken.
const printAllocDeltas = true

var (
	allocMu     sync.Mutex
	allocStats  runtime.MemStats
	lastAllocs  uint64
	lastMallocs uint64
	allocScratch [256]byte
)

// LogAllocs reports the change in heap allocation counters since the last
// call, tagged with msg. It is a no-op (after the stats read) when nothing
// changed, so callers can sprinkle it liberally without flooding output.
func LogAllocs(msg string) {
	allocMu.Lock()
	defer allocMu.Unlock()

	runtime.ReadMemStats(&allocStats)
	if allocStats.TotalAlloc == lastAllocs {
		return
	}
	incAlloc := int64(allocStats.TotalAlloc) - int64(lastAllocs)
	incMallocs := int64(allocStats.Mallocs) - int64(lastMallocs)

	if printAllocDeltas {
		print("[ALLOC] ", msg,
			" inc=", incAlloc,
			" n=", incMallocs,
			" heap=", allocStats.HeapAlloc,
			" free=", allocStats.HeapSys-allocStats.HeapInuse,
			" tot=", allocStats.TotalAlloc)
		println()
	} else {
		n := copy(allocScratch[:], "[ALLOC] ")
		n += copy(allocScratch[n:], msg)
		n += appendField(allocScratch[n:], "inc", incAlloc)
		n += appendField(allocScratch[n:], "n", incMallocs)
		n += appendUField(allocScratch[n:], "heap", allocStats.HeapAlloc)
		n += appendUField(allocScratch[n:], "free", allocStats.HeapSys-allocStats.HeapInuse)
		n += appendUField(allocScratch[n:], "tot", allocStats.TotalAlloc)
		println(unsafe.String(&allocScratch[0], n))
	}
	lastAllocs = allocStats.TotalAlloc
	lastMallocs = allocStats.Mallocs
}

// appendField writes " key=v" into buf without allocating, returning bytes
// written, or 0 if buf can't possibly hold a 20-digit int64.
func appendField(buf []byte, key string, v int64) int {
	if len(buf) < len(key)+22 {
		return 0
	}
	n := copy(buf, " ")
	n += copy(buf[n:], key)
	n += copy(buf[n:], "=")
	return len(strconv.AppendInt(buf[:n], v, 10))
}

func appendUField(buf []byte, key string, v uint64) int {
	if len(buf) < len(key)+22 {
		return 0
	}
	n := copy(buf, " ")
	n += copy(buf[n:], key)
	n += copy(buf[n:], "=")
	return len(strconv.AppendUint(buf[:n], v, 10))
}
