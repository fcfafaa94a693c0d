// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/params"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
)

type (
	// ExecutionFunc executes one instruction. pc points at the opcode and
	// may be moved by jumps and pushes.
	ExecutionFunc func(pc *uint64, scope *ScopeContext) ([]byte, error)
	// GasFunc returns the dynamic gas of an instruction for a memory
	// expansion to memorySize bytes.
	GasFunc        func(scope *ScopeContext, memorySize uint64) (uint64, error)
	MemorySizeFunc func(*Stack) (size uint64, overflow bool)
)

// Operation describes one opcode of the instruction set.
type Operation struct {
	Execute     ExecutionFunc
	ConstantGas uint64
	DynamicGas  GasFunc
	// MinStack tells how many stack items are required
	MinStack int
	// MaxStack specifies the max length the stack can have for this operation
	// to not overflow the stack.
	MaxStack int

	// MemorySize returns the memory size required for the operation
	MemorySize MemorySizeFunc
}

// ChargeDynamic expands memory and charges the dynamic gas of the
// operation against scope. Stack bounds must have been checked.
func (op *Operation) ChargeDynamic(scope *ScopeContext) error {
	var memorySize uint64
	if op.MemorySize != nil {
		memSize, overflow := op.MemorySize(scope.Stack)
		if overflow {
			return ErrGasUintOverflow
		}
		// memory is expanded in words of 32 bytes. Gas
		// is also calculated in words.
		if memorySize, overflow = math.SafeMul(toWordSize(memSize), 32); overflow {
			return ErrGasUintOverflow
		}
	}
	if op.DynamicGas != nil {
		dynamicCost, err := op.DynamicGas(scope, memorySize)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfGas, err)
		}
		if scope.Gas < dynamicCost {
			return ErrOutOfGas
		}
		scope.Gas -= dynamicCost
	}
	if memorySize > 0 {
		scope.Memory.Resize(memorySize)
	}
	return nil
}

// JumpTable contains the EVM opcodes supported at a given fork.
type JumpTable [256]*Operation

var instructionSet = newInstructionSet()

// LookupOperation returns the operation for op, or nil when op is not
// executable here: either undefined, or defined but outside the supported
// instruction set.
func LookupOperation(op compiler.ByteCode) *Operation {
	return instructionSet[op]
}

func minStack(pops, push int) int {
	return pops
}

func maxStack(pop, push int) int {
	return int(params.StackLimit) + pop - push
}

func minDupStack(n int) int {
	return n
}

func maxDupStack(n int) int {
	return maxStack(n, n+1)
}

func minSwapStack(n int) int {
	return minStack(n, n)
}

func maxSwapStack(n int) int {
	return maxStack(n, n)
}

// newInstructionSet returns the single-frame subset of the Cancun
// instruction set: no calls, creates, environment or block queries.
func newInstructionSet() JumpTable {
	tbl := JumpTable{
		compiler.STOP: {
			Execute:     opStop,
			ConstantGas: 0,
			MinStack:    minStack(0, 0),
			MaxStack:    maxStack(0, 0),
		},
		compiler.ADD: {
			Execute:     opAdd,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.MUL: {
			Execute:     opMul,
			ConstantGas: GasFastStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.SUB: {
			Execute:     opSub,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.DIV: {
			Execute:     opDiv,
			ConstantGas: GasFastStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.SDIV: {
			Execute:     opSdiv,
			ConstantGas: GasFastStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.MOD: {
			Execute:     opMod,
			ConstantGas: GasFastStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.SMOD: {
			Execute:     opSmod,
			ConstantGas: GasFastStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.ADDMOD: {
			Execute:     opAddmod,
			ConstantGas: GasMidStep,
			MinStack:    minStack(3, 1),
			MaxStack:    maxStack(3, 1),
		},
		compiler.MULMOD: {
			Execute:     opMulmod,
			ConstantGas: GasMidStep,
			MinStack:    minStack(3, 1),
			MaxStack:    maxStack(3, 1),
		},
		compiler.EXP: {
			Execute:    opExp,
			DynamicGas: gasExpEIP158,
			MinStack:   minStack(2, 1),
			MaxStack:   maxStack(2, 1),
		},
		compiler.SIGNEXTEND: {
			Execute:     opSignExtend,
			ConstantGas: GasFastStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.LT: {
			Execute:     opLt,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.GT: {
			Execute:     opGt,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.SLT: {
			Execute:     opSlt,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.SGT: {
			Execute:     opSgt,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.EQ: {
			Execute:     opEq,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.ISZERO: {
			Execute:     opIszero,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(1, 1),
			MaxStack:    maxStack(1, 1),
		},
		compiler.AND: {
			Execute:     opAnd,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.XOR: {
			Execute:     opXor,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.OR: {
			Execute:     opOr,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.NOT: {
			Execute:     opNot,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(1, 1),
			MaxStack:    maxStack(1, 1),
		},
		compiler.BYTE: {
			Execute:     opByte,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.SHL: {
			Execute:     opSHL,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.SHR: {
			Execute:     opSHR,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.SAR: {
			Execute:     opSAR,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
		},
		compiler.KECCAK256: {
			Execute:     opKeccak256,
			ConstantGas: params.Keccak256Gas,
			DynamicGas:  gasKeccak256,
			MinStack:    minStack(2, 1),
			MaxStack:    maxStack(2, 1),
			MemorySize:  memoryKeccak256,
		},
		compiler.ADDRESS: {
			Execute:     opAddress,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.CALLER: {
			Execute:     opCaller,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.CALLVALUE: {
			Execute:     opCallValue,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.CALLDATALOAD: {
			Execute:     opCallDataLoad,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(1, 1),
			MaxStack:    maxStack(1, 1),
		},
		compiler.CALLDATASIZE: {
			Execute:     opCallDataSize,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.CALLDATACOPY: {
			Execute:     opCallDataCopy,
			ConstantGas: GasFastestStep,
			DynamicGas:  gasCallDataCopy,
			MinStack:    minStack(3, 0),
			MaxStack:    maxStack(3, 0),
			MemorySize:  memoryCallDataCopy,
		},
		compiler.CODESIZE: {
			Execute:     opCodeSize,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.CODECOPY: {
			Execute:     opCodeCopy,
			ConstantGas: GasFastestStep,
			DynamicGas:  gasCodeCopy,
			MinStack:    minStack(3, 0),
			MaxStack:    maxStack(3, 0),
			MemorySize:  memoryCodeCopy,
		},
		compiler.POP: {
			Execute:     opPop,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(1, 0),
			MaxStack:    maxStack(1, 0),
		},
		compiler.MLOAD: {
			Execute:     opMload,
			ConstantGas: GasFastestStep,
			DynamicGas:  gasMLoad,
			MinStack:    minStack(1, 1),
			MaxStack:    maxStack(1, 1),
			MemorySize:  memoryMLoad,
		},
		compiler.MSTORE: {
			Execute:     opMstore,
			ConstantGas: GasFastestStep,
			DynamicGas:  gasMStore,
			MinStack:    minStack(2, 0),
			MaxStack:    maxStack(2, 0),
			MemorySize:  memoryMStore,
		},
		compiler.MSTORE8: {
			Execute:     opMstore8,
			ConstantGas: GasFastestStep,
			DynamicGas:  gasMStore8,
			MemorySize:  memoryMStore8,
			MinStack:    minStack(2, 0),
			MaxStack:    maxStack(2, 0),
		},
		compiler.SLOAD: {
			Execute:    opSload,
			DynamicGas: gasSLoadEIP2929,
			MinStack:   minStack(1, 1),
			MaxStack:   maxStack(1, 1),
		},
		compiler.SSTORE: {
			Execute:    opSstore,
			DynamicGas: gasSStoreEIP3529,
			MinStack:   minStack(2, 0),
			MaxStack:   maxStack(2, 0),
		},
		compiler.JUMP: {
			Execute:     opJump,
			ConstantGas: GasMidStep,
			MinStack:    minStack(1, 0),
			MaxStack:    maxStack(1, 0),
		},
		compiler.JUMPI: {
			Execute:     opJumpi,
			ConstantGas: GasSlowStep,
			MinStack:    minStack(2, 0),
			MaxStack:    maxStack(2, 0),
		},
		compiler.PC: {
			Execute:     opPc,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.MSIZE: {
			Execute:     opMsize,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.GAS: {
			Execute:     opGas,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.JUMPDEST: {
			Execute:     opJumpdest,
			ConstantGas: params.JumpdestGas,
			MinStack:    minStack(0, 0),
			MaxStack:    maxStack(0, 0),
		},
		compiler.PUSH0: {
			Execute:     opPush0,
			ConstantGas: GasQuickStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.PUSH1: {
			Execute:     opPush1,
			ConstantGas: GasFastestStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		},
		compiler.RETURN: {
			Execute:    opReturn,
			DynamicGas: gasReturn,
			MinStack:   minStack(2, 0),
			MaxStack:   maxStack(2, 0),
			MemorySize: memoryReturn,
		},
		compiler.REVERT: {
			Execute:    opRevert,
			DynamicGas: gasRevert,
			MinStack:   minStack(2, 0),
			MaxStack:   maxStack(2, 0),
			MemorySize: memoryRevert,
		},
	}
	for n := 2; n <= 32; n++ {
		tbl[compiler.PUSH1+compiler.ByteCode(n-1)] = &Operation{
			Execute:     makePush(uint64(n), n),
			ConstantGas: GasFastestStep,
			MinStack:    minStack(0, 1),
			MaxStack:    maxStack(0, 1),
		}
	}
	for n := 1; n <= 16; n++ {
		tbl[compiler.DUP1+compiler.ByteCode(n-1)] = &Operation{
			Execute:     makeDup(int64(n)),
			ConstantGas: GasFastestStep,
			MinStack:    minDupStack(n),
			MaxStack:    maxDupStack(n),
		}
		tbl[compiler.SWAP1+compiler.ByteCode(n-1)] = &Operation{
			Execute:     makeSwap(int64(n)),
			ConstantGas: GasFastestStep,
			MinStack:    minSwapStack(n + 1),
			MaxStack:    maxSwapStack(n + 1),
		}
	}
	for n := 0; n <= 4; n++ {
		tbl[compiler.LOG0+compiler.ByteCode(n)] = &Operation{
			Execute:    makeLog(n),
			DynamicGas: makeGasLog(uint64(n)),
			MinStack:   minStack(n+2, 0),
			MaxStack:   maxStack(n+2, 0),
			MemorySize: memoryLog,
		}
	}
	return tbl
}
