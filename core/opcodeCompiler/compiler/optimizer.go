package compiler

import (
	"github.com/holiman/uint256"
)

// DefaultMaxOptimizationPasses bounds OptimizeToFixedPoint. Every fold
// removes two instructions, so the loop always terminates; the ceiling only
// caps compile latency. A left-leaning chain PUSH PUSH OP PUSH OP ... folds
// one link per pass, and random code bodies have been seen to need up to
// 23 passes, so long chains may stay partly folded.
const DefaultMaxOptimizationPasses = 10

// OptimizationStats counts what the optimizer did.
type OptimizationStats struct {
	PatternsDetected  int // PUSH, PUSH, OP triples seen
	PatternsFolded    int // triples rewritten into a single push
	OpcodesEliminated int
	Passes            int
}

func (s *OptimizationStats) add(o OptimizationStats) {
	s.PatternsDetected += o.PatternsDetected
	s.PatternsFolded += o.PatternsFolded
	s.OpcodesEliminated += o.OpcodesEliminated
	s.Passes += o.Passes
}

// foldable lists the binary opcodes whose result is a pure function of the
// two pushed operands and whose gas cost is static.
var foldable = map[ByteCode]func(a, b, z *uint256.Int){
	ADD: func(a, b, z *uint256.Int) { z.Add(a, b) },
	MUL: func(a, b, z *uint256.Int) { z.Mul(a, b) },
	SUB: func(a, b, z *uint256.Int) { z.Sub(a, b) },
	DIV: func(a, b, z *uint256.Int) { z.Div(a, b) },
	MOD: func(a, b, z *uint256.Int) { z.Mod(a, b) },
	LT:  func(a, b, z *uint256.Int) { setBool(z, a.Lt(b)) },
	GT:  func(a, b, z *uint256.Int) { setBool(z, a.Gt(b)) },
	SLT: func(a, b, z *uint256.Int) { setBool(z, a.Slt(b)) },
	SGT: func(a, b, z *uint256.Int) { setBool(z, a.Sgt(b)) },
	EQ:  func(a, b, z *uint256.Int) { setBool(z, a.Eq(b)) },
	AND: func(a, b, z *uint256.Int) { z.And(a, b) },
	OR:  func(a, b, z *uint256.Int) { z.Or(a, b) },
	XOR: func(a, b, z *uint256.Int) { z.Xor(a, b) },
	BYTE: func(a, b, z *uint256.Int) {
		z.Set(b)
		z.Byte(a)
	},
	SHL: func(a, b, z *uint256.Int) {
		if a.LtUint64(256) {
			z.Lsh(b, uint(a.Uint64()))
		} else {
			z.Clear()
		}
	},
	SHR: func(a, b, z *uint256.Int) {
		if a.LtUint64(256) {
			z.Rsh(b, uint(a.Uint64()))
		} else {
			z.Clear()
		}
	},
	SAR: func(a, b, z *uint256.Int) {
		if a.GtUint64(255) {
			if b.Sign() >= 0 {
				z.Clear()
			} else {
				z.SetAllOne()
			}
			return
		}
		z.SRsh(b, uint(a.Uint64()))
	},
}

func setBool(z *uint256.Int, v bool) {
	if v {
		z.SetOne()
	} else {
		z.Clear()
	}
}

// Optimize runs one constant-folding pass over every basic block. The
// returned code has the same length, blocks and jump targets as the input;
// folded ranges hold the narrowest push of the result followed by Nop
// padding. a is left untouched.
func Optimize(a *AnalyzedBytecode) (*AnalyzedBytecode, OptimizationStats) {
	out := a.clone()
	stats := OptimizationStats{Passes: 1}
	for _, block := range out.Blocks {
		stats.add(foldBlock(out, block))
	}
	out.OpcodeCount -= stats.OpcodesEliminated
	return out, stats
}

// OptimizeToFixedPoint applies Optimize until a pass folds nothing or
// maxPasses passes ran, and returns the cumulative stats.
func OptimizeToFixedPoint(a *AnalyzedBytecode, maxPasses int) (*AnalyzedBytecode, OptimizationStats) {
	if maxPasses < 1 {
		maxPasses = DefaultMaxOptimizationPasses
	}
	var total OptimizationStats
	for total.Passes < maxPasses {
		next, stats := Optimize(a)
		total.add(stats)
		if stats.PatternsFolded == 0 {
			break
		}
		a = next
	}
	return a, total
}

func foldBlock(a *AnalyzedBytecode, block BasicBlock) OptimizationStats {
	var (
		stats OptimizationStats
		insts []Instruction
	)
	a.Instructions(block, func(inst Instruction) bool {
		insts = append(insts, inst)
		return true
	})
	for i := 0; i+2 < len(insts); {
		first, second, op := insts[i], insts[i+1], insts[i+2]
		eval, ok := foldable[op.Op]
		if !ok || !first.Op.IsPush() || !second.Op.IsPush() ||
			len(first.Data) != first.Op.PushSize() || len(second.Data) != second.Op.PushSize() {
			i++
			continue
		}
		stats.PatternsDetected++
		var (
			x      = new(uint256.Int).SetBytes(first.Data)
			y      = new(uint256.Int).SetBytes(second.Data)
			result = new(uint256.Int)
		)
		// The operation pops y (top of stack) first.
		eval(y, x, result)
		if writeFold(a, first.PC, op.PC, result) {
			stats.PatternsFolded++
			stats.OpcodesEliminated += 2
		}
		i += 3
	}
	return stats
}

// writeFold rewrites [start, end] as a push of value padded with Nop. It
// reports false when the push does not fit.
func writeFold(a *AnalyzedBytecode, start, end uint64, value *uint256.Int) bool {
	n := value.ByteLen()
	if n == 0 {
		n = 1
	}
	span := end - start + 1
	if uint64(n)+1 > span {
		return false
	}
	a.Code[start] = byte(pushOp(n))
	value.WriteToSlice(a.Code[start+1 : start+1+uint64(n)])
	for pc := start; pc <= start+uint64(n); pc++ {
		a.padding.clear(pc)
	}
	for pc := start + uint64(n) + 1; pc <= end; pc++ {
		a.Code[pc] = byte(Nop)
		a.padding.set(pc)
	}
	return true
}
