package compiler

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
)

// JumpDestCache keeps jumpdest analysis results keyed by code hash so the
// interpreter and the analyzer do not rescan the same code on every call.
type JumpDestCache struct {
	cache *fastcache.Cache
}

// NewJumpDestCache creates a cache bounded to roughly maxBytes.
func NewJumpDestCache(maxBytes int) *JumpDestCache {
	return &JumpDestCache{cache: fastcache.New(maxBytes)}
}

// Load returns the cached bitmap for codeHash.
func (c *JumpDestCache) Load(codeHash common.Hash) (Bitmap, bool) {
	if c == nil || codeHash == (common.Hash{}) {
		return nil, false
	}
	bits, ok := c.cache.HasGet(nil, codeHash.Bytes())
	if !ok {
		return nil, false
	}
	return bits, true
}

// Store records the bitmap for codeHash. The zero hash is never cached,
// it is what callers pass when they did not hash the code.
func (c *JumpDestCache) Store(codeHash common.Hash, bits Bitmap) {
	if c == nil || codeHash == (common.Hash{}) {
		return
	}
	c.cache.Set(codeHash.Bytes(), bits)
}

// Analyze returns the jumpdest bitmap of code, computing and storing it
// on a miss.
func (c *JumpDestCache) Analyze(codeHash common.Hash, code []byte) Bitmap {
	if bits, ok := c.Load(codeHash); ok && len(bits) == (len(code)+7)/8 {
		return bits
	}
	bits := ComputeJumpDests(code)
	c.Store(codeHash, bits)
	return bits
}

// JumpTargets returns the jump destinations of code as ascending offsets.
func (c *JumpDestCache) JumpTargets(codeHash common.Hash, code []byte) []uint64 {
	return bitmapTargets(c.Analyze(codeHash, code), len(code))
}

// Reset drops every cached bitmap.
func (c *JumpDestCache) Reset() {
	c.cache.Reset()
}

func bitmapTargets(bits Bitmap, size int) []uint64 {
	targets := make([]uint64, 0)
	for pc := uint64(0); pc < uint64(size); pc++ {
		if bits.Has(pc) {
			targets = append(targets, pc)
		}
	}
	return targets
}
