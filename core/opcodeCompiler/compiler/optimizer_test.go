package compiler

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizeFoldsAdd(t *testing.T) {
	code := common.FromHex("6002600301" + "00")
	in := analyze(code)
	out, stats := Optimize(in)

	assert.Equal(t, common.FromHex("6005d0d0d000"), out.Code)
	assert.Equal(t, OptimizationStats{PatternsDetected: 1, PatternsFolded: 1, OpcodesEliminated: 2, Passes: 1}, stats)
	assert.Equal(t, 2, out.OpcodeCount)
	for pc := uint64(2); pc <= 4; pc++ {
		assert.True(t, out.IsPadding(pc), "pc %d", pc)
	}
	assert.False(t, out.IsPadding(5))
	assert.True(t, out.Optimized())

	// The input and the deployed code are untouched.
	assert.Equal(t, common.FromHex("600260030100"), in.Code)
	assert.Equal(t, code, out.Original)
	assert.False(t, in.Optimized())
}

func TestOptimizeOperandOrder(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		// 10 - 3, the second push is the top of the stack
		{"sub", "6003600a0300", "6007d0d0d000"},
		// 1 << 4
		{"shl", "600160041b00", "6010d0d0d000"},
		// 4 / 0
		{"div by zero", "600060040400", "6000d0d0d000"},
		// 3 < 5
		{"lt", "6003600510" + "00", "6000d0d0d000"},
		// byte 31 of 0xab
		{"byte", "60ab601f1a00", "60abd0d0d000"},
		// 0x0100 needs a wider push
		{"two byte result", "6010601002" + "00", "610100d0d000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, stats := Optimize(analyze(common.FromHex(tt.code)))
			assert.Equal(t, common.FromHex(tt.want), out.Code)
			assert.Equal(t, 1, stats.PatternsFolded)
		})
	}
}

func TestOptimizeResultTooWide(t *testing.T) {
	// 0 - 1 wraps to 32 bytes, which does not fit in five.
	code := common.FromHex("600160000300")
	out, stats := Optimize(analyze(code))
	assert.Equal(t, code, out.Code)
	assert.Equal(t, 1, stats.PatternsDetected)
	assert.Zero(t, stats.PatternsFolded)
	assert.False(t, out.Optimized())
}

func TestOptimizeSkipsDynamicGasOps(t *testing.T) {
	// EXP charges per exponent byte
	code := common.FromHex("600260030a00")
	out, stats := Optimize(analyze(code))
	assert.Equal(t, code, out.Code)
	assert.Zero(t, stats.PatternsDetected)
}

func TestOptimizeStaysInsideBlocks(t *testing.T) {
	// PUSH1 1, JUMPDEST, PUSH1 2, ADD
	code := common.FromHex("60015b600201")
	out, stats := Optimize(analyze(code))
	assert.Equal(t, code, out.Code)
	assert.Zero(t, stats.PatternsDetected)
}

func TestOptimizeToFixedPointChains(t *testing.T) {
	// (1 + 2) + 3
	code := common.FromHex("600160020160030100")
	in := analyze(code)

	first, _ := Optimize(in)
	assert.Equal(t, common.FromHex("6003d0d0d060030100"), first.Code)

	out, stats := OptimizeToFixedPoint(in, DefaultMaxOptimizationPasses)
	assert.Equal(t, common.FromHex("6006d0d0d0d0d0d000"), out.Code)
	assert.Equal(t, 2, stats.PatternsFolded)
	assert.Equal(t, 4, stats.OpcodesEliminated)
	assert.Equal(t, 3, stats.Passes)
	assert.Equal(t, 2, out.OpcodeCount)

	// A fixed point folds nothing more.
	again, more := Optimize(out)
	assert.Zero(t, more.PatternsFolded)
	assert.Equal(t, out.Code, again.Code)
}

func TestOptimizeToFixedPointPassCeiling(t *testing.T) {
	code := common.FromHex("600160020160030100")
	out, stats := OptimizeToFixedPoint(analyze(code), 1)
	assert.Equal(t, 1, stats.Passes)
	assert.Equal(t, common.FromHex("6003d0d0d060030100"), out.Code)
}

func TestOptimizePreservesLayout(t *testing.T) {
	// PUSH1 2, PUSH1 3, MUL, PUSH1 10, JUMPI, JUMPDEST, PUSH1 4, PUSH1 6, XOR, STOP
	code := common.FromHex("60026003026010575b6004600618" + "00")
	in := analyze(code)
	out, _ := OptimizeToFixedPoint(in, DefaultMaxOptimizationPasses)

	require.Len(t, out.Code, len(code))
	assert.Equal(t, in.Blocks, out.Blocks)
	assert.Equal(t, in.JumpTargets, out.JumpTargets)
	for _, target := range in.JumpTargets {
		assert.Equal(t, byte(JUMPDEST), out.Code[target])
	}
}

func TestOptimizeNopByteInDeployedCode(t *testing.T) {
	// A 0xd0 byte that the optimizer did not write is not padding.
	code := common.FromHex("d06002600301")
	out, _ := Optimize(analyze(code))
	assert.False(t, out.IsPadding(0))

	var ops []ByteCode
	out.Instructions(out.Blocks[0], func(inst Instruction) bool {
		ops = append(ops, inst.Op)
		return true
	})
	assert.Equal(t, []ByteCode{Nop, PUSH1}, ops)
}

func TestOptimizeToFixedPointLongChain(t *testing.T) {
	// 1 + 1 + 1 ... thirteen times: a left-leaning chain folds one link
	// per pass.
	code := common.FromHex("6001600101" + strings.Repeat("600101", 11) + "00")
	in := analyze(code)

	partial, stats := OptimizeToFixedPoint(in, DefaultMaxOptimizationPasses)
	assert.Equal(t, DefaultMaxOptimizationPasses, stats.Passes)
	assert.Equal(t, 10, stats.PatternsFolded)
	// PUSH1 11, two links left, STOP
	assert.Equal(t, 6, partial.OpcodeCount)
	_, more := Optimize(partial)
	assert.Equal(t, 1, more.PatternsFolded)

	out, stats := OptimizeToFixedPoint(in, 13)
	assert.Equal(t, 13, stats.Passes)
	assert.Equal(t, 12, stats.PatternsFolded)
	assert.Equal(t, 2, out.OpcodeCount)
	assert.Equal(t, common.FromHex("600d"), out.Code[:2])
}

// randomFoldableCode returns n or a few more bytes of code dense in
// PUSH, PUSH, OP chains.
func randomFoldableCode(rng *rand.Rand, n int) []byte {
	ops := []ByteCode{ADD, MUL, SUB, DIV, MOD, LT, GT, SLT, SGT, EQ, AND, OR, XOR, BYTE, SHL, SHR, SAR, EXP, POP, JUMPDEST, JUMP, STOP}
	code := make([]byte, 0, n+33)
	for len(code) < n {
		switch r := rng.Intn(10); {
		case r < 5:
			size := 1 + rng.Intn(2)
			if rng.Intn(8) == 0 {
				size = 1 + rng.Intn(32)
			}
			code = append(code, byte(pushOp(size)))
			for i := 0; i < size; i++ {
				code = append(code, byte(rng.Intn(4)))
			}
		case r < 9:
			code = append(code, byte(ops[rng.Intn(len(ops))]))
		default:
			code = append(code, byte(rng.Intn(256)))
		}
	}
	return code
}

func countInstructions(a *AnalyzedBytecode) int {
	var n int
	for _, b := range a.Blocks {
		a.Instructions(b, func(Instruction) bool {
			n++
			return true
		})
	}
	return n
}

// checkFoldingPasses optimizes code one pass at a time until a pass folds
// nothing, checking what every pass must preserve, and returns the number
// of passes that folded something.
func checkFoldingPasses(t *testing.T, code []byte) int {
	t.Helper()
	var (
		in     = analyze(code)
		cur    = in
		last   = -1
		passes int
	)
	for ; ; passes++ {
		next, stats := Optimize(cur)
		require.Len(t, next.Code, len(code), "code %x", code)
		require.Equal(t, in.Blocks, next.Blocks, "code %x", code)
		require.Equal(t, in.JumpTargets, next.JumpTargets, "code %x", code)
		for _, target := range in.JumpTargets {
			require.Equal(t, byte(JUMPDEST), next.Code[target], "code %x", code)
		}
		require.Equal(t, countInstructions(next), next.OpcodeCount, "code %x", code)
		if last >= 0 {
			require.LessOrEqual(t, stats.PatternsFolded, last, "code %x pass %d", code, passes)
		}
		if stats.PatternsFolded == 0 {
			require.Equal(t, cur.Code, next.Code, "code %x", code)
			break
		}
		require.Less(t, passes, len(code), "code %x does not converge", code)
		last = stats.PatternsFolded
		cur = next
	}
	// The same fixed point is reached in one call given enough passes.
	out, total := OptimizeToFixedPoint(in, passes+1)
	require.Equal(t, cur.Code, out.Code, "code %x", code)
	require.Equal(t, passes+1, total.Passes, "code %x", code)
	return passes
}

func TestOptimizeRandomCodeInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	var folded int
	for i := 0; i < 2000; i++ {
		var code []byte
		if i%4 == 0 {
			code = make([]byte, rng.Intn(300))
			rng.Read(code)
		} else {
			code = randomFoldableCode(rng, rng.Intn(300))
		}
		folded += checkFoldingPasses(t, code)

		// The pass ceiling is honoured.
		_, stats := OptimizeToFixedPoint(analyze(code), DefaultMaxOptimizationPasses)
		require.LessOrEqual(t, stats.Passes, DefaultMaxOptimizationPasses)
	}
	require.NotZero(t, folded)
}
