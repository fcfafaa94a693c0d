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
	"errors"
	"fmt"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
)

// List evm execution errors
var (
	ErrOutOfGas          = errors.New("out of gas")
	ErrDepth             = errors.New("max call depth exceeded")
	ErrExecutionReverted = errors.New("execution reverted")
	ErrGasUintOverflow   = errors.New("gas uint64 overflow")
	ErrInvalidJump       = errors.New("invalid jump destination")
	ErrWriteProtection   = errors.New("write protection")
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrStackOverflow     = errors.New("stack limit reached")
	ErrInvalidOpCode     = errors.New("invalid opcode")

	// errStopToken is an internal token indicating interpreter loop termination,
	// never returned to outside callers.
	errStopToken = errors.New("stop token")
)

func stackUnderflow(have, need int) error {
	return fmt.Errorf("%w (%d <=> %d)", ErrStackUnderflow, have, need)
}

func stackOverflow(have, limit int) error {
	return fmt.Errorf("%w (%d <=> %d)", ErrStackOverflow, have, limit)
}

func invalidOpCode(op compiler.ByteCode) error {
	return fmt.Errorf("%w: opcode %#x", ErrInvalidOpCode, byte(op))
}

// NewOutcome turns the result of running a frame into an Outcome. Reverts
// keep their return data and unused gas; every other error consumes all
// gas.
func NewOutcome(gas, left uint64, ret []byte, err error) *compiler.Outcome {
	switch {
	case err == nil || errors.Is(err, errStopToken):
		return &compiler.Outcome{Status: compiler.StatusSuccess, ReturnData: ret, GasUsed: gas - left}
	case errors.Is(err, ErrExecutionReverted):
		return &compiler.Outcome{Status: compiler.StatusRevert, ReturnData: ret, GasUsed: gas - left}
	default:
		return &compiler.Outcome{Status: compiler.StatusHalt, GasUsed: gas, Err: err}
	}
}

func unsupported(op compiler.ByteCode) error {
	return fmt.Errorf("%w: %v", compiler.ErrUnsupportedOpcode, op)
}
