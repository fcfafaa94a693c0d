// Package threaded is a compiled tier that lowers optimized bytecode into
// pre-decoded instruction lists per basic block. Stack bounds and constant
// gas are checked once per block, push immediates are decoded at compile
// time and jumps resolve straight to the target block.
package threaded

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
	"github.com/bnb-chain/bsc-jit/core/vm"
)

var (
	programGauge     = metrics.NewRegisteredGauge("jit/threaded/programs", nil)
	loweredCounter   = metrics.NewRegisteredCounter("jit/threaded/lowered", nil)
	unreachableMeter = metrics.NewRegisteredMeter("jit/threaded/unreachable", nil)
	unsupportedMeter = metrics.NewRegisteredMeter("jit/threaded/unsupported", nil)
)

// Backend compiles analyzed bytecode into Programs.
type Backend struct {
	log log.Logger
}

// New returns a threaded-code backend.
func New() *Backend {
	return &Backend{log: log.New("module", "jit", "backend", "threaded")}
}

// Init checks that the instruction set covers the opcodes every program
// relies on.
func (b *Backend) Init() error {
	for _, op := range []compiler.ByteCode{compiler.STOP, compiler.JUMP, compiler.JUMPI, compiler.JUMPDEST, compiler.PUSH1, compiler.RETURN, compiler.REVERT} {
		if vm.LookupOperation(op) == nil {
			return fmt.Errorf("instruction set lacks %v", op)
		}
	}
	return nil
}

// Compile lowers a. Blocks that can never execute are skipped; a reachable
// opcode the instruction set does not implement fails the compilation
// with compiler.ErrUnsupportedOpcode.
func (b *Backend) Compile(a *compiler.AnalyzedBytecode) (compiler.Executable, error) {
	p := &Program{
		hash:    a.Hash,
		code:    a.Original,
		blocks:  make([]block, len(a.Blocks)),
		targets: make(map[uint64]int),
	}
	unsupported := mapset.NewThreadUnsafeSet[compiler.ByteCode]()

	for i, bb := range a.Blocks {
		blk := &p.blocks[i]
		blk.start = bb.Start
		blk.next = i + 1
		if blk.next == len(a.Blocks) {
			blk.next = -1
		}
		if a.IsJumpTarget(bb.Start) {
			p.targets[bb.Start] = i
			blk.reachable = true
		}
		if i == 0 || (p.blocks[i-1].reachable && p.blocks[i-1].fallsThrough) {
			blk.reachable = true
		}
		credits := chargeBlock(a, bb, blk)
		if !blk.reachable {
			unreachableMeter.Mark(1)
			continue
		}
		lowerBlock(a, bb, blk, credits, unsupported)
		loweredCounter.Inc(int64(len(blk.insts)))
	}
	if unsupported.Cardinality() > 0 {
		ops := unsupported.ToSlice()
		slices.Sort(ops)
		names := make([]string, len(ops))
		for i, op := range ops {
			names[i] = op.String()
		}
		unsupportedMeter.Mark(1)
		return nil, fmt.Errorf("%w: %s", compiler.ErrUnsupportedOpcode, strings.Join(names, ", "))
	}
	p.jumps = compiler.ComputeJumpDests(a.Original)
	programGauge.Inc(1)
	return p, nil
}

// credit is the constant gas of the original instructions at or after pc
// in a block.
type credit struct {
	pc     uint64
	suffix uint64
}

// chargeBlock computes the entry requirements of bb from the deployed
// code, so that a folded block is charged exactly what the interpreter
// charges for the unfolded one. It returns the gas credits per original
// instruction boundary.
func chargeBlock(a *compiler.AnalyzedBytecode, bb compiler.BasicBlock, blk *block) []credit {
	var (
		height int
		costs  []credit
		last   = compiler.STOP
	)
	a.OriginalInstructions(bb, func(inst compiler.Instruction) bool {
		blk.req.Add(inst.Op, &height)
		if blk.req.Terminated {
			return false
		}
		costs = append(costs, credit{pc: inst.PC, suffix: vm.LookupOperation(inst.Op).ConstantGas})
		last = inst.Op
		return true
	})
	for i := len(costs) - 2; i >= 0; i-- {
		costs[i].suffix += costs[i+1].suffix
	}
	switch {
	case blk.req.Terminated:
	case last == compiler.JUMP, last == compiler.STOP, last == compiler.RETURN, last == compiler.REVERT:
	default:
		blk.fallsThrough = true
	}
	return costs
}

// creditFrom returns the constant gas of the original instructions at or
// after pc.
func creditFrom(costs []credit, pc uint64) uint64 {
	i, _ := slices.BinarySearchFunc(costs, pc, func(c credit, pc uint64) int {
		switch {
		case c.pc < pc:
			return -1
		case c.pc > pc:
			return 1
		}
		return 0
	})
	if i == len(costs) {
		return 0
	}
	return costs[i].suffix
}

func lowerBlock(a *compiler.AnalyzedBytecode, bb compiler.BasicBlock, blk *block, costs []credit, unsupported mapset.Set[compiler.ByteCode]) {
	a.Instructions(bb, func(inst compiler.Instruction) bool {
		in := instruction{op: inst.Op, pc: inst.PC}
		switch {
		case inst.Op.IsPush():
			in.kind = kindPush
			in.push = new(uint256.Int).SetBytes(common.RightPadBytes(inst.Data, inst.Op.PushSize()))
		case inst.Op == compiler.JUMPDEST:
			in.kind = kindNop
		case inst.Op == compiler.JUMP:
			in.kind = kindJump
		case inst.Op == compiler.JUMPI:
			in.kind = kindJumpi
		case inst.Op == compiler.PC:
			in.kind = kindPc
		default:
			in.exec = vm.LookupOperation(inst.Op)
			if in.exec == nil {
				if inst.Op.IsDefined() && inst.Op != compiler.INVALID {
					unsupported.Add(inst.Op)
				}
				in.kind = kindInvalid
			}
		}
		if len(blk.insts) > 0 {
			blk.insts[len(blk.insts)-1].credit = creditFrom(costs, inst.PC)
		}
		blk.insts = append(blk.insts, in)
		return in.kind != kindInvalid
	})
}
