package threaded

import (
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
	"github.com/bnb-chain/bsc-jit/core/vm"
)

type kind uint8

const (
	kindExec    kind = iota // run through the instruction set
	kindPush                // push a decoded immediate
	kindNop                 // JUMPDEST
	kindJump
	kindJumpi
	kindPc
	kindInvalid // undefined opcode, halts
)

type instruction struct {
	kind   kind
	op     compiler.ByteCode
	pc     uint64
	exec   *vm.Operation
	push   *uint256.Int
	credit uint64 // constant gas charged at block entry for later instructions
}

type block struct {
	start        uint64
	req          vm.BlockRequirements
	insts        []instruction
	reachable    bool
	fallsThrough bool
	next         int // fallthrough block, -1 past the last one
}

var (
	_ compiler.Executable = (*Program)(nil)
	_ compiler.Releaser   = (*Program)(nil)
)

// Program is a compiled code body. It is immutable and may be executed
// concurrently.
type Program struct {
	hash     common.Hash
	code     []byte // deployed code
	jumps    compiler.Bitmap
	blocks   []block
	targets  map[uint64]int // jump destination to block index
	released atomic.Bool
}

// Execute runs the program against ctx.
func (p *Program) Execute(ctx *compiler.ExecutionContext) *compiler.Outcome {
	scope := vm.NewScope(ctx, p.code, p.jumps)
	defer scope.Release()

	ret, err := p.run(scope)
	return vm.NewOutcome(ctx.Gas, scope.Gas, ret, err)
}

// Release drops the program from the live program gauge. Executions in
// flight are not affected.
func (p *Program) Release() {
	if p.released.CompareAndSwap(false, true) {
		programGauge.Dec(1)
	}
}

func (p *Program) run(scope *vm.ScopeContext) ([]byte, error) {
	if len(p.blocks) == 0 {
		return nil, nil
	}
	for cur := 0; cur >= 0; {
		blk := &p.blocks[cur]
		if sLen := scope.Stack.Len(); sLen < blk.req.MinStack {
			return nil, fmt.Errorf("%w (%d <=> %d)", vm.ErrStackUnderflow, sLen, blk.req.MinStack)
		} else if sLen+blk.req.MaxGrowth > int(params.StackLimit) {
			return nil, fmt.Errorf("%w (%d <=> %d)", vm.ErrStackOverflow, sLen, int(params.StackLimit)-blk.req.MaxGrowth)
		}
		if !scope.UseGas(blk.req.StaticGas) {
			return nil, vm.ErrOutOfGas
		}
		next := blk.next
	insts:
		for i := range blk.insts {
			in := &blk.insts[i]
			scope.GasCredit = in.credit

			switch in.kind {
			case kindPush:
				scope.Stack.Push(in.push)
			case kindNop:
			case kindPc:
				scope.Stack.Push(new(uint256.Int).SetUint64(in.pc))
			case kindJump:
				dest := scope.Stack.Pop()
				target, ok := p.target(&dest)
				if !ok {
					return nil, vm.ErrInvalidJump
				}
				next = target
				break insts
			case kindJumpi:
				dest, cond := scope.Stack.Pop(), scope.Stack.Pop()
				if cond.IsZero() {
					break insts
				}
				target, ok := p.target(&dest)
				if !ok {
					return nil, vm.ErrInvalidJump
				}
				next = target
				break insts
			case kindInvalid:
				return nil, fmt.Errorf("%w: opcode %#x", vm.ErrInvalidOpCode, byte(in.op))
			default:
				if err := in.exec.ChargeDynamic(scope); err != nil {
					return nil, err
				}
				pc := in.pc
				if ret, err := in.exec.Execute(&pc, scope); err != nil {
					return ret, err
				}
			}
		}
		scope.GasCredit = 0
		cur = next
	}
	// Running off the end of the code is an implicit STOP.
	return nil, nil
}

func (p *Program) target(dest *uint256.Int) (int, bool) {
	udest, overflow := dest.Uint64WithOverflow()
	if overflow {
		return 0, false
	}
	target, ok := p.targets[udest]
	return target, ok
}
