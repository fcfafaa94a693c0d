package compiler

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// TierState is where an identity stands in the tiering state machine.
type TierState uint8

const (
	Cold      TierState = iota // never interpreted, or evicted
	Warming                    // interpreted, below the threshold
	Compiling                  // compilation in flight
	Hot                        // compiled code is used
	Rejected                   // compilation failed, interpreted for good
)

func (s TierState) String() string {
	switch s {
	case Cold:
		return "cold"
	case Warming:
		return "warming"
	case Compiling:
		return "compiling"
	case Hot:
		return "hot"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// InterpretFunc runs a call on the interpreter.
type InterpretFunc func(ctx *ExecutionContext) *Outcome

// CompiledFunc runs a call on a compiled artifact.
type CompiledFunc func(artifact *CompiledArtifact, ctx *ExecutionContext) *Outcome

// Dispatcher decides per call whether the interpreter or compiled code
// runs, feeds the execution counter and queues hot code for compilation.
// Each execution runs on a fork of the caller's context and is committed
// back only when it succeeds.
type Dispatcher struct {
	config    Config
	counter   *ExecutionCounter
	cache     *CodeCache
	jumpdests *JumpDestCache
	compiler  *Compiler // nil in interpreter-only mode
	stats     *Stats
	log       log.Logger

	validatedMu sync.Mutex
	validated   lru.BasicLRU[common.Hash, uint64] // validated runs per identity

	// OnMismatch, if set, is called for every validation mismatch.
	OnMismatch func(*ValidationMismatch)
}

// NewDispatcher builds the counter, cache and compiler for one process.
// When the backend cannot be used the returned dispatcher still works,
// interpreting everything, and the error says why.
func NewDispatcher(config Config, backend Backend) (*Dispatcher, error) {
	config = (&config).Sanitize()
	d := &Dispatcher{
		config:    config,
		counter:   NewExecutionCounter(config.HotThreshold, config.CounterCapacity),
		cache:     NewCodeCache(config.CacheSize),
		jumpdests: NewJumpDestCache(config.JumpDestCacheBytes),
		validated: lru.NewBasicLRU[common.Hash, uint64](config.CacheSize),
		stats:     new(Stats),
		log:       log.New("module", "jit"),
	}
	d.cache.SetEvictHook(d.forget)
	if !config.Enabled {
		return d, nil
	}
	if backend == nil {
		return d, errors.Wrap(ErrBackendUnavailable, "no backend configured")
	}
	if initer, ok := backend.(Initializer); ok {
		if err := initer.Init(); err != nil {
			d.log.Error("JIT backend failed to start, running interpreter only", "err", err)
			return d, errors.Wrap(ErrBackendUnavailable, err.Error())
		}
	}
	compiler, err := NewCompiler(config, d.cache, d.jumpdests, backend, d.stats)
	if err != nil {
		d.log.Error("JIT compiler failed to start, running interpreter only", "err", err)
		return d, errors.Wrap(ErrBackendUnavailable, err.Error())
	}
	compiler.Start()
	d.compiler = compiler
	d.log.Info("JIT enabled", "threshold", config.HotThreshold, "workers", config.CompilerWorkers,
		"cache", config.CacheSize, "validation", config.ValidationMode)
	return d, nil
}

// Enabled reports whether compiled code can be used.
func (d *Dispatcher) Enabled() bool { return d.compiler != nil }

// JumpDests returns the jumpdest analysis cache shared with the interpreter.
func (d *Dispatcher) JumpDests() *JumpDestCache { return d.jumpdests }

// Cache returns the compiled code cache.
func (d *Dispatcher) Cache() *CodeCache { return d.cache }

// Counter returns the execution counter.
func (d *Dispatcher) Counter() *ExecutionCounter { return d.counter }

// Dispatch runs one call of code, identified by hash, against ctx. A nil
// compiled runs artifacts with their own Execute.
func (d *Dispatcher) Dispatch(hash common.Hash, code []byte, ctx *ExecutionContext, interpret InterpretFunc, compiled CompiledFunc) *Outcome {
	if len(code) == 0 || d.compiler == nil {
		return d.interpret(ctx, interpret)
	}
	entry := d.cache.Lookup(hash)
	if entry.State == Ready {
		if compiled == nil {
			compiled = (*CompiledArtifact).Execute
		}
		if d.shouldValidate(hash) {
			return d.validate(hash, entry.Artifact, ctx, interpret, compiled)
		}
		return d.runCompiled(hash, entry.Artifact, ctx, interpret, compiled)
	}
	out := d.interpret(ctx, interpret)
	if d.counter.OnInterpreted(hash) {
		d.compiler.Submit(&CompilationRequest{Hash: hash, Code: common.CopyBytes(code), EnqueuedAt: time.Now()})
	}
	return out
}

// State reports the tier state of hash.
func (d *Dispatcher) State(hash common.Hash) TierState {
	switch d.cache.peek(hash).State {
	case Ready:
		return Hot
	case Pending:
		return Compiling
	case Failed:
		return Rejected
	}
	if d.counter.Count(hash) > 0 {
		return Warming
	}
	return Cold
}

// Evict drops everything known about hash; it starts over as Cold. A
// compilation in flight is not affected and false is returned.
func (d *Dispatcher) Evict(hash common.Hash) bool {
	if d.cache.peek(hash).State == Pending {
		return false
	}
	d.cache.Evict(hash)
	d.forget(hash)
	return true
}

// forget resets the tiering record of hash so it has to warm up again.
func (d *Dispatcher) forget(hash common.Hash) {
	d.counter.Reset(hash)

	d.validatedMu.Lock()
	d.validated.Remove(hash)
	d.validatedMu.Unlock()
}

// Wait blocks until queued compilations are published.
func (d *Dispatcher) Wait() {
	if d.compiler != nil {
		d.compiler.Wait()
	}
}

// Close stops the background compiler.
func (d *Dispatcher) Close() {
	if d.compiler != nil {
		d.compiler.Close()
	}
}

// Stats returns counters for hit rate, compile latency and mismatch rate.
func (d *Dispatcher) Stats() StatsSnapshot {
	s := d.stats.snapshot()
	cs := d.cache.Stats()
	s.CacheHits, s.CacheMisses = cs.Hits, cs.Misses
	return s
}

func (d *Dispatcher) interpret(ctx *ExecutionContext, interpret InterpretFunc) *Outcome {
	d.stats.interpreted.Add(1)
	interpretedMeter.Mark(1)

	run := ctx.Fork()
	out := interpret(run)
	commit(run, out)
	return out
}

func (d *Dispatcher) runCompiled(hash common.Hash, artifact *CompiledArtifact, ctx *ExecutionContext, interpret InterpretFunc, compiled CompiledFunc) *Outcome {
	run := ctx.Fork()
	out, err := execute(compiled, artifact, run)
	if err != nil {
		d.stats.fallbacks.Add(1)
		fallbackMeter.Mark(1)
		d.log.Error("Compiled code failed, falling back to interpreter", "hash", hash, "err", err)
		d.reject(hash, err)
		return d.interpret(ctx, interpret)
	}
	d.stats.compiledRuns.Add(1)
	compiledRunMeter.Mark(1)
	commit(run, out)
	return out
}

// validate runs both tiers on independent forks of ctx and commits the
// interpreted result whatever the comparison says.
func (d *Dispatcher) validate(hash common.Hash, artifact *CompiledArtifact, ctx *ExecutionContext, interpret InterpretFunc, compiled CompiledFunc) *Outcome {
	d.stats.validations.Add(1)
	validationMeter.Mark(1)

	ref := ctx.Fork()
	want := interpret(ref)

	jit := ctx.Fork()
	got, err := execute(compiled, artifact, jit)
	if err == nil {
		err = Validate(hash, want, delta(ref), got, delta(jit))
	}
	if err != nil {
		mismatch, ok := err.(*ValidationMismatch)
		if !ok {
			mismatch = &ValidationMismatch{Hash: hash, Interpreted: want, Compiled: got, Diffs: multierror.Append(nil, err)}
		}
		d.stats.mismatches.Add(1)
		mismatchMeter.Mark(1)
		d.log.Error("JIT validation mismatch", "hash", hash, "err", mismatch)
		if d.OnMismatch != nil {
			d.OnMismatch(mismatch)
		}
		if d.config.RejectOnMismatch {
			d.reject(hash, mismatch)
		}
	}
	d.stats.interpreted.Add(1)
	commit(ref, want)
	return want
}

func (d *Dispatcher) shouldValidate(hash common.Hash) bool {
	if !d.config.ValidationMode {
		return false
	}
	if d.config.ValidationRuns == 0 {
		return true
	}
	d.validatedMu.Lock()
	defer d.validatedMu.Unlock()

	runs, _ := d.validated.Get(hash)
	if runs >= d.config.ValidationRuns {
		return false
	}
	d.validated.Add(hash, runs+1)
	return true
}

// reject takes a ready artifact out of service for good: the slot is
// evicted and immediately resolved as Failed.
func (d *Dispatcher) reject(hash common.Hash, reason error) {
	d.cache.Evict(hash)
	if d.cache.MarkPending(hash, nil) {
		d.cache.Publish(hash, nil, &CompilationError{Hash: hash, Err: reason})
	}
}

// execute runs a compiled program, turning a panic into an error.
func execute(compiled CompiledFunc, artifact *CompiledArtifact, ctx *ExecutionContext) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, errors.Wrapf(ErrCompiledPanic, "%v\n%s", r, debug.Stack())
		}
	}()
	out = compiled(artifact, ctx)
	if out == nil {
		return nil, fmt.Errorf("compiled program %x returned no outcome", artifact.Hash[:8])
	}
	return out, nil
}

func commit(run *ExecutionContext, out *Outcome) {
	if out != nil && out.Status == StatusSuccess && run.State != nil {
		run.State.Commit()
	}
}

func delta(run *ExecutionContext) *StateDelta {
	if run.State == nil {
		return nil
	}
	return run.State.Delta()
}
