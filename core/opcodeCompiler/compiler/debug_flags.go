package compiler

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// debugLogs gates the per-identity compile and dispatch logs, which are
// too chatty for a node in normal operation. JIT_DEBUG=1 turns them on at
// startup.
var debugLogs atomic.Bool

func init() {
	if on, err := strconv.ParseBool(os.Getenv("JIT_DEBUG")); err == nil {
		debugLogs.Store(on)
	}
}

// EnableJitDebugLogs switches the per-identity logs on or off.
func EnableJitDebugLogs(on bool) { debugLogs.Store(on) }

// JitDebugWarn logs at warn level when debug logs are on.
func JitDebugWarn(msg string, ctx ...interface{}) {
	if debugLogs.Load() {
		log.Warn(msg, ctx...)
	}
}

// JitDebugInfo logs at info level when debug logs are on.
func JitDebugInfo(msg string, ctx ...interface{}) {
	if debugLogs.Load() {
		log.Info(msg, ctx...)
	}
}
