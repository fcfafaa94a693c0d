package compiler

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// hotness is the per-identity interpretation record.
type hotness struct {
	count     atomic.Uint64
	requested atomic.Bool
}

// ExecutionCounter tracks how often each code identity is interpreted and
// signals, once per identity, that it became hot. Records are kept in a
// bounded LRU; losing one only delays or skips a compilation.
type ExecutionCounter struct {
	threshold uint64
	entries   *lru.Cache
}

// NewExecutionCounter creates a counter that fires on the threshold-th
// interpretation of an identity and tracks at most capacity identities.
func NewExecutionCounter(threshold uint64, capacity int) *ExecutionCounter {
	if threshold == 0 {
		threshold = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	entries, _ := lru.NewWithEvict(capacity, func(key interface{}, value interface{}) {
		counterEvictMeter.Mark(1)
	})
	return &ExecutionCounter{threshold: threshold, entries: entries}
}

// Threshold returns the configured hotness threshold.
func (c *ExecutionCounter) Threshold() uint64 { return c.threshold }

// OnInterpreted records one interpretation of hash. It returns true for
// exactly one call per tracked identity: the one that reaches the
// threshold. The count saturates there.
func (c *ExecutionCounter) OnInterpreted(hash common.Hash) bool {
	h := c.entry(hash)
	for {
		cur := h.count.Load()
		if cur >= c.threshold {
			return false
		}
		if h.count.CompareAndSwap(cur, cur+1) {
			if cur+1 < c.threshold {
				return false
			}
			return h.requested.CompareAndSwap(false, true)
		}
	}
}

// Count returns the recorded interpretations of hash.
func (c *ExecutionCounter) Count(hash common.Hash) uint64 {
	if v, ok := c.entries.Peek(hash); ok {
		return v.(*hotness).count.Load()
	}
	return 0
}

// Requested reports whether hash already crossed the threshold.
func (c *ExecutionCounter) Requested(hash common.Hash) bool {
	if v, ok := c.entries.Peek(hash); ok {
		return v.(*hotness).requested.Load()
	}
	return false
}

// Reset forgets hash, which starts counting from zero again.
func (c *ExecutionCounter) Reset(hash common.Hash) {
	c.entries.Remove(hash)
}

// Len returns the number of tracked identities.
func (c *ExecutionCounter) Len() int {
	return c.entries.Len()
}

func (c *ExecutionCounter) entry(hash common.Hash) *hotness {
	if v, ok := c.entries.Get(hash); ok {
		return v.(*hotness)
	}
	fresh := new(hotness)
	if prev, ok, _ := c.entries.PeekOrAdd(hash, fresh); ok {
		return prev.(*hotness)
	}
	return fresh
}
