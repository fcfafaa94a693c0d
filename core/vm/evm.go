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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
)

// EVM runs calls through the tiered dispatcher, with the Interpreter as
// the reference tier. It is safe for concurrent use; every call brings its
// own ExecutionContext.
type EVM struct {
	dispatcher  *compiler.Dispatcher
	interpreter *Interpreter
}

// NewEVM creates an EVM compiling hot code with backend. If the backend
// cannot be used the EVM is still returned, interpreting everything, along
// with the reason.
func NewEVM(config compiler.Config, backend compiler.Backend) (*EVM, error) {
	dispatcher, err := compiler.NewDispatcher(config, backend)
	evm := &EVM{
		dispatcher:  dispatcher,
		interpreter: NewInterpreter(dispatcher.JumpDests()),
	}
	return evm, err
}

// Dispatcher returns the tiering dispatcher.
func (evm *EVM) Dispatcher() *compiler.Dispatcher {
	return evm.dispatcher
}

// Interpreter returns the reference interpreter.
func (evm *EVM) Interpreter() *Interpreter {
	return evm.interpreter
}

// Call executes code against ctx.
func (evm *EVM) Call(ctx *compiler.ExecutionContext, code []byte) *compiler.Outcome {
	return evm.CallCode(ctx, compiler.IdentityOf(code), code)
}

// CallCode executes code whose identity hash is already known.
func (evm *EVM) CallCode(ctx *compiler.ExecutionContext, hash common.Hash, code []byte) *compiler.Outcome {
	// Fail if we're trying to execute above the call depth limit
	if ctx.Depth > int(params.CallCreateDepth) {
		depthExceeded.Mark(1)
		return &compiler.Outcome{Status: compiler.StatusHalt, Err: ErrDepth}
	}
	defer callTimer.UpdateSince(time.Now())

	interpret := func(run *compiler.ExecutionContext) *compiler.Outcome {
		return evm.interpreter.Run(run, code, hash)
	}
	return evm.dispatcher.Dispatch(hash, code, ctx, interpret, nil)
}

// Close stops background compilation.
func (evm *EVM) Close() {
	evm.dispatcher.Close()
}
