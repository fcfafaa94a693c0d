package compiler

import (
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

var (
	cacheHitMeter        = metrics.NewRegisteredMeter("jit/cache/hit", nil)
	cacheMissMeter       = metrics.NewRegisteredMeter("jit/cache/miss", nil)
	cacheEvictMeter      = metrics.NewRegisteredMeter("jit/cache/evict", nil)
	cacheReadyGauge      = metrics.NewRegisteredGauge("jit/cache/ready", nil)
	counterEvictMeter    = metrics.NewRegisteredMeter("jit/counter/evict", nil)
	compileTimer         = metrics.NewRegisteredTimer("jit/compile/time", nil)
	compiledCounter      = metrics.NewRegisteredCounter("jit/compile/ok", nil)
	compileFailCounter   = metrics.NewRegisteredCounter("jit/compile/failed", nil)
	compileDropMeter     = metrics.NewRegisteredMeter("jit/compile/dropped", nil)
	compileOversizeMeter = metrics.NewRegisteredMeter("jit/compile/oversized", nil)
	foldedCounter        = metrics.NewRegisteredCounter("jit/optimizer/folded", nil)
	interpretedMeter     = metrics.NewRegisteredMeter("jit/dispatch/interpreted", nil)
	compiledRunMeter     = metrics.NewRegisteredMeter("jit/dispatch/compiled", nil)
	fallbackMeter        = metrics.NewRegisteredMeter("jit/dispatch/fallback", nil)
	validationMeter      = metrics.NewRegisteredMeter("jit/validation/runs", nil)
	mismatchMeter        = metrics.NewRegisteredMeter("jit/validation/mismatch", nil)
)

// Stats is the in-process view of the registered metrics, kept regardless
// of whether metrics collection is enabled.
type Stats struct {
	interpreted  atomic.Uint64
	compiledRuns atomic.Uint64
	fallbacks    atomic.Uint64
	compiled     atomic.Uint64
	failed       atomic.Uint64
	dropped      atomic.Uint64
	oversized    atomic.Uint64
	compileNanos atomic.Uint64
	validations  atomic.Uint64
	mismatches   atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Interpreted  uint64
	CompiledRuns uint64
	Fallbacks    uint64
	Compiled     uint64
	Failed       uint64
	Dropped      uint64 // queue full, never compiled
	Oversized    uint64 // over MaxBytecodeSize, never compiled
	CompileTime  time.Duration
	Validations  uint64
	Mismatches   uint64
	CacheHits    uint64
	CacheMisses  uint64
}

// HitRate is the share of cache lookups that found a ready artifact.
func (s StatsSnapshot) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// MismatchRate is the share of validated executions that diverged.
func (s StatsSnapshot) MismatchRate() float64 {
	if s.Validations == 0 {
		return 0
	}
	return float64(s.Mismatches) / float64(s.Validations)
}

// AvgCompileTime is the mean latency of compilations a worker ran, failed
// ones included.
func (s StatsSnapshot) AvgCompileTime() time.Duration {
	n := s.Compiled + s.Failed
	if n == 0 {
		return 0
	}
	return s.CompileTime / time.Duration(n)
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Interpreted:  s.interpreted.Load(),
		CompiledRuns: s.compiledRuns.Load(),
		Fallbacks:    s.fallbacks.Load(),
		Compiled:     s.compiled.Load(),
		Failed:       s.failed.Load(),
		Dropped:      s.dropped.Load(),
		Oversized:    s.oversized.Load(),
		CompileTime:  time.Duration(s.compileNanos.Load()),
		Validations:  s.validations.Load(),
		Mismatches:   s.mismatches.Load(),
	}
}
