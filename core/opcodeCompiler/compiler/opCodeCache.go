package compiler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
)

// EntryState is the compilation state of a code identity.
type EntryState uint8

const (
	Missing EntryState = iota
	Pending
	Ready
	Failed
)

func (s EntryState) String() string {
	switch s {
	case Missing:
		return "missing"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// CacheEntry is the result of a cache lookup.
type CacheEntry struct {
	State    EntryState
	Artifact *CompiledArtifact // set when Ready
	Reason   error             // set when Failed
}

// CompiledArtifact is a published compilation result.
type CompiledArtifact struct {
	Hash       common.Hash
	Analyzed   *AnalyzedBytecode // the optimized bytecode the program was built from
	Program    Executable
	Stats      OptimizationStats
	CompiledAt time.Time
}

// Execute runs the compiled program against ctx.
func (a *CompiledArtifact) Execute(ctx *ExecutionContext) *Outcome {
	return a.Program.Execute(ctx)
}

func (a *CompiledArtifact) release() {
	if r, ok := a.Program.(Releaser); ok {
		r.Release()
	}
}

type evictedSlot struct {
	hash     common.Hash
	artifact *CompiledArtifact
}

type readySlot struct {
	artifact *CompiledArtifact
	touched  atomic.Bool // looked up since the last eviction sweep
}

// CacheStats is a point-in-time view of the cache.
type CacheStats struct {
	Ready   int
	Pending int
	Failed  int
	Hits    uint64
	Misses  uint64
}

// CodeCache maps code identities to their compilation state. Lookups only
// take the read lock; recency is recorded on the slot and folded into the
// LRU order when an insert needs room. Pending entries are never evicted
// and failures are kept until explicitly evicted.
type CodeCache struct {
	mu       sync.RWMutex
	capacity int
	ready    lru.BasicLRU[common.Hash, *readySlot]
	pending  map[common.Hash]*CompilationRequest
	failed   map[common.Hash]error
	onEvict  func(common.Hash)

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCodeCache creates a cache holding at most capacity ready artifacts.
func NewCodeCache(capacity int) *CodeCache {
	if capacity < 1 {
		capacity = 1
	}
	return &CodeCache{
		capacity: capacity,
		// One spare slot so the LRU never evicts on its own; makeRoom does.
		ready:   lru.NewBasicLRU[common.Hash, *readySlot](capacity + 1),
		pending: make(map[common.Hash]*CompilationRequest),
		failed:  make(map[common.Hash]error),
	}
}

// SetEvictHook registers fn to be called, without locks held, for every
// ready entry dropped to make room for a new one. It must be set before
// the cache is shared.
func (c *CodeCache) SetEvictHook(fn func(hash common.Hash)) {
	c.onEvict = fn
}

// Lookup returns the state of hash.
func (c *CodeCache) Lookup(hash common.Hash) CacheEntry {
	entry := c.peek(hash)
	if entry.State == Ready {
		c.hits.Add(1)
		cacheHitMeter.Mark(1)
	} else {
		c.misses.Add(1)
		cacheMissMeter.Mark(1)
	}
	return entry
}

// peek is Lookup without hit accounting.
func (c *CodeCache) peek(hash common.Hash) CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if slot, ok := c.ready.Peek(hash); ok {
		slot.touched.Store(true)
		return CacheEntry{State: Ready, Artifact: slot.artifact}
	}
	if _, ok := c.pending[hash]; ok {
		return CacheEntry{State: Pending}
	}
	if reason, ok := c.failed[hash]; ok {
		return CacheEntry{State: Failed, Reason: reason}
	}
	return CacheEntry{State: Missing}
}

// MarkPending moves hash from Missing to Pending. It returns false if hash
// is in any other state.
func (c *CodeCache) MarkPending(hash common.Hash, req *CompilationRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready.Contains(hash) {
		return false
	}
	if _, ok := c.pending[hash]; ok {
		return false
	}
	if _, ok := c.failed[hash]; ok {
		return false
	}
	c.pending[hash] = req
	return true
}

// Publish resolves a pending hash: Ready with artifact when err is nil,
// Failed otherwise.
func (c *CodeCache) Publish(hash common.Hash, artifact *CompiledArtifact, err error) error {
	if err == nil && artifact == nil {
		err = ErrCompilationFailed
	}
	c.mu.Lock()
	if _, ok := c.pending[hash]; !ok {
		c.mu.Unlock()
		return ErrNotPending
	}
	delete(c.pending, hash)
	if err != nil {
		c.failed[hash] = err
		c.mu.Unlock()
		return nil
	}
	evicted := c.makeRoom()
	c.ready.Add(hash, &readySlot{artifact: artifact})
	cacheReadyGauge.Update(int64(c.ready.Len()))
	c.mu.Unlock()

	for _, e := range evicted {
		e.artifact.release()
		if c.onEvict != nil {
			c.onEvict(e.hash)
		}
	}
	return nil
}

// Evict returns a Ready or Failed hash to Missing. Pending entries stay.
func (c *CodeCache) Evict(hash common.Hash) bool {
	c.mu.Lock()
	if _, ok := c.pending[hash]; ok {
		c.mu.Unlock()
		return false
	}
	if _, ok := c.failed[hash]; ok {
		delete(c.failed, hash)
		c.mu.Unlock()
		return true
	}
	slot, ok := c.ready.Peek(hash)
	if ok {
		c.ready.Remove(hash)
		cacheReadyGauge.Update(int64(c.ready.Len()))
	}
	c.mu.Unlock()

	if ok {
		cacheEvictMeter.Mark(1)
		slot.artifact.release()
	}
	return ok
}

// Len returns the number of tracked identities in any non-Missing state.
func (c *CodeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready.Len() + len(c.pending) + len(c.failed)
}

// Stats returns entry counts and lookup totals.
func (c *CodeCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Ready:   c.ready.Len(),
		Pending: len(c.pending),
		Failed:  len(c.failed),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// makeRoom evicts ready entries until one more fits, giving entries
// looked up since the last sweep a second chance. Must hold c.mu.
func (c *CodeCache) makeRoom() []evictedSlot {
	var (
		evicted []evictedSlot
		spared  int
	)
	for c.ready.Len() >= c.capacity {
		hash, slot, ok := c.ready.RemoveOldest()
		if !ok {
			break
		}
		if slot.touched.Load() && spared < c.ready.Len()+1 {
			slot.touched.Store(false)
			c.ready.Add(hash, slot)
			spared++
			continue
		}
		evicted = append(evicted, evictedSlot{hash: hash, artifact: slot.artifact})
		cacheEvictMeter.Mark(1)
	}
	return evicted
}
