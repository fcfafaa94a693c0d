// Copyright 2025 The go-ethereum Authors
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
	"github.com/ethereum/go-ethereum/params"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
)

// OpStackCounts returns the number of values popped from and pushed to the stack
// by the given opcode, derived from the instruction set. Operations outside
// the instruction set report zero for both.
func OpStackCounts(op compiler.ByteCode) (pops int, pushes int) {
	entry := LookupOperation(op)
	if entry == nil {
		return 0, 0
	}
	// MinStack stores the required pops. MaxStack = StackLimit + pops - pushes.
	pops = entry.MinStack
	pushes = pops + int(params.StackLimit) - entry.MaxStack
	if pushes < 0 {
		pushes = 0
	}
	return
}

// BlockRequirements summarizes the stack and gas demands of running a
// straight-line instruction sequence from its first instruction.
type BlockRequirements struct {
	StaticGas  uint64 // sum of constant gas
	MinStack   int    // items that must be on the stack at entry
	MaxGrowth  int    // peak height above the entry height
	Terminated bool   // the sequence reaches an instruction that cannot run
}

// Add accounts for op following the instructions already seen. Once an
// instruction cannot run, later ones are ignored: execution never gets
// past it.
func (r *BlockRequirements) Add(op compiler.ByteCode, height *int) {
	if r.Terminated {
		return
	}
	entry := LookupOperation(op)
	if entry == nil {
		r.Terminated = true
		return
	}
	pops, pushes := OpStackCounts(op)
	if need := pops - *height; need > r.MinStack {
		r.MinStack = need
	}
	*height += pushes - pops
	if *height > r.MaxGrowth {
		r.MaxGrowth = *height
	}
	r.StaticGas += entry.ConstantGas
}
