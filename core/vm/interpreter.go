// Copyright 2014 The go-ethereum Authors
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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
)

// ScopeContext contains the things that are per-call, such as stack and memory,
// but not transients like pc.
type ScopeContext struct {
	Memory *Memory
	Stack  *Stack
	Ctx    *compiler.ExecutionContext

	Code  []byte          // deployed code, what CODESIZE, CODECOPY and PUSH read
	Jumps compiler.Bitmap // valid jump destinations of Code

	Gas uint64
	// GasCredit is constant gas already charged for instructions that have
	// not run yet. Tiers charging a whole block up front keep it so that
	// GAS and the SSTORE sentry observe per-instruction accounting.
	GasCredit uint64

	hasher    crypto.KeccakState // Keccak256 hasher instance shared across opcodes
	hasherBuf common.Hash        // Keccak256 hasher result array shared across opcodes
}

// NewScope prepares a frame for running code against ctx with ctx.Gas.
// Release must be called once the frame is done.
func NewScope(ctx *compiler.ExecutionContext, code []byte, jumps compiler.Bitmap) *ScopeContext {
	if ctx.State == nil {
		ctx.State = compiler.NewStateOverlay(compiler.NewMemoryState())
	}
	return &ScopeContext{
		Memory: NewMemory(),
		Stack:  NewStack(),
		Ctx:    ctx,
		Code:   code,
		Jumps:  jumps,
		Gas:    ctx.Gas,
		hasher: crypto.NewKeccakState(),
	}
}

// Release returns the stack and memory to their pools.
func (scope *ScopeContext) Release() {
	ReturnStack(scope.Stack)
	scope.Memory.Free()
	scope.Stack, scope.Memory = nil, nil
}

// UseGas deducts amount, reporting false if not enough gas is left.
func (scope *ScopeContext) UseGas(amount uint64) bool {
	if scope.Gas < amount {
		return false
	}
	scope.Gas -= amount
	return true
}

// Interpreter is the reference tier: it executes code one opcode at a
// time, charging gas per instruction.
type Interpreter struct {
	jumpdests *compiler.JumpDestCache
}

// NewInterpreter returns an interpreter sharing jumpdest analysis through
// jumpdests, which may be nil.
func NewInterpreter(jumpdests *compiler.JumpDestCache) *Interpreter {
	return &Interpreter{jumpdests: jumpdests}
}

// Run executes code against ctx. hash is the identity of code, or the
// zero hash if it was not computed.
func (in *Interpreter) Run(ctx *compiler.ExecutionContext, code []byte, hash common.Hash) *compiler.Outcome {
	// Don't bother with the execution if there's no code.
	if len(code) == 0 {
		return NewOutcome(ctx.Gas, ctx.Gas, nil, nil)
	}
	var jumps compiler.Bitmap
	if in.jumpdests != nil {
		jumps = in.jumpdests.Analyze(hash, code)
	} else {
		jumps = compiler.ComputeJumpDests(code)
	}
	scope := NewScope(ctx, code, jumps)
	defer scope.Release()

	ret, err := in.run(scope)
	return NewOutcome(ctx.Gas, scope.Gas, ret, err)
}

func (in *Interpreter) run(scope *ScopeContext) (ret []byte, err error) {
	var (
		op   compiler.ByteCode // current opcode
		code = scope.Code
		// For optimisation reason we're using uint64 as the program counter.
		// It's theoretically possible to go above 2^64. The YP defines the PC
		// to be uint256. Practically much less so feasible.
		pc    = uint64(0) // program counter
		res   []byte      // result of the opcode execution function
		steps int64
	)
	defer func() { opcodeCount.Inc(steps) }()

	// The Interpreter main run loop (contextual). This loop runs until either an
	// explicit STOP, RETURN or REVERT is executed or an error occurred during
	// the execution of one of the operations.
	for {
		if pc >= uint64(len(code)) {
			// Running off the end of the code is an implicit STOP.
			return nil, nil
		}
		// Get the operation from the jump table and validate the stack to ensure there are
		// enough stack items available to perform the operation.
		op = compiler.ByteCode(code[pc])
		operation := LookupOperation(op)
		if operation == nil {
			if op.IsDefined() && op != compiler.INVALID {
				return nil, unsupported(op)
			}
			return nil, invalidOpCode(op)
		}
		// Validate stack
		if sLen := scope.Stack.Len(); sLen < operation.MinStack {
			return nil, stackUnderflow(sLen, operation.MinStack)
		} else if sLen > operation.MaxStack {
			return nil, stackOverflow(sLen, operation.MaxStack)
		}
		// for tracing: this gas consumption event is emitted below in the debug section.
		if !scope.UseGas(operation.ConstantGas) {
			return nil, ErrOutOfGas
		}
		if err = operation.ChargeDynamic(scope); err != nil {
			return nil, err
		}
		steps++

		// execute the operation
		res, err = operation.Execute(&pc, scope)
		if err != nil {
			return res, err
		}
		pc++
	}
}
