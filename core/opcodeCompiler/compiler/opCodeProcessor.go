package compiler

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/bnb-chain/bsc-jit/common/gopool"
)

// CompilationRequest asks the background compiler to build an identity.
type CompilationRequest struct {
	Hash       common.Hash
	Code       []byte
	Analyzed   *AnalyzedBytecode // optional, analyzed on the worker when nil
	EnqueuedAt time.Time
}

// Compiler owns the compile queue and the workers draining it. Results are
// published into the cache; nothing is ever reported back to the caller
// that submitted the request.
type Compiler struct {
	config    Config
	cache     *CodeCache
	jumpdests *JumpDestCache
	backend   Backend
	stats     *Stats

	queue    chan *CompilationRequest
	pool     *gopool.FuncPool
	inflight sync.WaitGroup
	mu       sync.RWMutex // guards closed against in-progress Submit calls
	closed   bool
	quit     chan struct{}
	done     chan struct{}
	log      log.Logger
}

// NewCompiler creates a stopped compiler; call Start to run it.
func NewCompiler(config Config, cache *CodeCache, jumpdests *JumpDestCache, backend Backend, stats *Stats) (*Compiler, error) {
	config = (&config).Sanitize()
	if stats == nil {
		stats = new(Stats)
	}
	c := &Compiler{
		config:    config,
		cache:     cache,
		jumpdests: jumpdests,
		backend:   backend,
		stats:     stats,
		queue:     make(chan *CompilationRequest, config.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		log:       log.New("module", "jit"),
	}
	pool, err := gopool.NewFuncPool(config.CompilerWorkers, c.work, func(p interface{}) {
		c.log.Error("JIT worker panicked outside compilation", "err", p)
	})
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// Start launches the queue feeder.
func (c *Compiler) Start() {
	go c.loop()
}

// Submit queues req unless its identity is already known to the cache.
// It never blocks: a full queue drops the request and records the identity
// as Failed so it does not stay Pending forever. It reports whether the
// request was queued.
func (c *Compiler) Submit(req *CompilationRequest) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	if !c.cache.MarkPending(req.Hash, req) {
		return false
	}
	if len(req.Code) > c.config.MaxBytecodeSize {
		c.stats.oversized.Add(1)
		compileOversizeMeter.Mark(1)
		c.resolve(req.Hash, nil, errors.Wrapf(ErrBytecodeTooLarge, "size %d, limit %d", len(req.Code), c.config.MaxBytecodeSize))
		return false
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}
	c.inflight.Add(1)
	select {
	case c.queue <- req:
		JitDebugInfo("JIT compilation queued", "hash", req.Hash, "size", len(req.Code))
		return true
	default:
		c.inflight.Done()
		c.stats.dropped.Add(1)
		compileDropMeter.Mark(1)
		c.resolve(req.Hash, nil, ErrQueueFull)
		return false
	}
}

// Wait blocks until every queued request has been published.
func (c *Compiler) Wait() {
	c.inflight.Wait()
}

// Close stops accepting requests, lets queued ones finish and releases the
// workers.
func (c *Compiler) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.quit)
	<-c.done
	c.inflight.Wait()
	c.pool.Release()
}

func (c *Compiler) loop() {
	defer close(c.done)
	for {
		select {
		case req := <-c.queue:
			c.dispatch(req)
		case <-c.quit:
			for {
				select {
				case req := <-c.queue:
					c.dispatch(req)
				default:
					return
				}
			}
		}
	}
}

func (c *Compiler) dispatch(req *CompilationRequest) {
	if err := c.pool.Invoke(req); err != nil {
		c.log.Warn("JIT worker pool rejected request", "hash", req.Hash, "err", err)
		c.stats.dropped.Add(1)
		compileDropMeter.Mark(1)
		c.resolve(req.Hash, nil, err)
		c.inflight.Done()
	}
}

// work is the pool function: one request per call.
func (c *Compiler) work(arg interface{}) {
	req := arg.(*CompilationRequest)
	defer c.inflight.Done()

	start := time.Now()
	artifact, err := c.build(req)
	elapsed := time.Since(start)
	compileTimer.Update(elapsed)
	c.stats.compileNanos.Add(uint64(elapsed))
	if err != nil {
		c.stats.failed.Add(1)
		compileFailCounter.Inc(1)
	} else {
		c.stats.compiled.Add(1)
		compiledCounter.Inc(1)
	}
	c.resolve(req.Hash, artifact, err)
}

// build runs analysis, optimization and codegen for req. Panics are
// turned into a failure for this identity only.
func (c *Compiler) build(req *CompilationRequest) (artifact *CompiledArtifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("JIT compilation panicked", "hash", req.Hash, "err", r, "stack", string(debug.Stack()))
			artifact, err = nil, errors.Wrap(ErrCompilerPanic, fmt.Sprint(r))
		}
	}()
	analyzed := req.Analyzed
	if analyzed == nil {
		analyzed = Analyze(req.Code, req.Hash, c.jumpdests.JumpTargets(req.Hash, req.Code))
	}
	optimized, stats := OptimizeToFixedPoint(analyzed, c.config.MaxOptimizationPasses)
	foldedCounter.Inc(int64(stats.PatternsFolded))

	program, err := c.backend.Compile(optimized)
	if err != nil {
		return nil, err
	}
	return &CompiledArtifact{
		Hash:       req.Hash,
		Analyzed:   optimized,
		Program:    program,
		Stats:      stats,
		CompiledAt: time.Now(),
	}, nil
}

// resolve moves hash out of Pending. Only requests that reached a worker
// count towards the compiled and failed totals.
func (c *Compiler) resolve(hash common.Hash, artifact *CompiledArtifact, err error) {
	if err != nil {
		err = &CompilationError{Hash: hash, Err: err}
		JitDebugWarn("JIT compilation failed", "hash", hash, "err", err)
	} else {
		JitDebugInfo("JIT compilation finished", "hash", hash, "folded", artifact.Stats.PatternsFolded, "passes", artifact.Stats.Passes)
	}
	if perr := c.cache.Publish(hash, artifact, err); perr != nil {
		c.log.Warn("Failed to publish JIT result", "hash", hash, "err", perr)
	}
}
