// Copyright 2017 The go-ethereum Authors
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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/params"
)

// Gas costs
const (
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
)

// memoryGasCost calculates the quadratic gas for memory expansion. It does so
// only for the memory region that is expanded, not the total memory.
func memoryGasCost(mem *Memory, newMemSize uint64) (uint64, error) {
	if newMemSize == 0 {
		return 0, nil
	}
	// The maximum that will fit in a uint64 is max_word_count - 1. Anything above
	// that will result in an overflow. Additionally, a newMemSize which results in
	// a newMemSizeWords larger than 0xFFFFFFFF will cause the square operation to
	// overflow. The constant 0x1FFFFFFFE0 is the highest number that can be used
	// without overflowing the gas calculation.
	if newMemSize > 0x1FFFFFFFE0 {
		return 0, ErrGasUintOverflow
	}
	newMemSizeWords := toWordSize(newMemSize)
	newMemSize = newMemSizeWords * 32

	if newMemSize > uint64(mem.Len()) {
		square := newMemSizeWords * newMemSizeWords
		linCoef := newMemSizeWords * params.MemoryGas
		quadCoef := square / params.QuadCoeffDiv
		newTotalFee := linCoef + quadCoef

		fee := newTotalFee - mem.lastGasCost
		mem.lastGasCost = newTotalFee

		return fee, nil
	}
	return 0, nil
}

// memoryCopierGas creates the gas functions for the following opcodes, and takes
// the stack position of the operand which determines the size of the data to copy
// as argument:
// CALLDATACOPY (stack position 2)
// CODECOPY (stack position 2)
func memoryCopierGas(stackpos int) GasFunc {
	return func(scope *ScopeContext, memorySize uint64) (uint64, error) {
		// Gas for expanding the memory
		gas, err := memoryGasCost(scope.Memory, memorySize)
		if err != nil {
			return 0, err
		}
		// And gas for copying data, charged per word at param.CopyGas
		words, overflow := scope.Stack.Back(stackpos).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}

		if words, overflow = math.SafeMul(toWordSize(words), params.CopyGas); overflow {
			return 0, ErrGasUintOverflow
		}

		if gas, overflow = math.SafeAdd(gas, words); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

var (
	gasCallDataCopy = memoryCopierGas(2)
	gasCodeCopy     = memoryCopierGas(2)
	gasMLoad        = pureMemoryGascost
	gasMStore8      = pureMemoryGascost
	gasMStore       = pureMemoryGascost
	gasReturn       = pureMemoryGascost
	gasRevert       = pureMemoryGascost
)

func pureMemoryGascost(scope *ScopeContext, memorySize uint64) (uint64, error) {
	return memoryGasCost(scope.Memory, memorySize)
}

func gasKeccak256(scope *ScopeContext, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(scope.Memory, memorySize)
	if err != nil {
		return 0, err
	}
	wordGas, overflow := scope.Stack.Back(1).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if wordGas, overflow = math.SafeMul(toWordSize(wordGas), params.Keccak256WordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	if gas, overflow = math.SafeAdd(gas, wordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

func gasExpEIP158(scope *ScopeContext, memorySize uint64) (uint64, error) {
	expByteLen := uint64((scope.Stack.Back(1).BitLen() + 7) / 8)

	var (
		gas      = expByteLen * params.ExpByteEIP158 // no overflow check required. Max is 32 * 50 = 1600 gas
		overflow bool
	)
	if gas, overflow = math.SafeAdd(gas, params.ExpGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

func makeGasLog(n uint64) GasFunc {
	return func(scope *ScopeContext, memorySize uint64) (uint64, error) {
		requestedSize, overflow := scope.Stack.Back(1).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}

		gas, err := memoryGasCost(scope.Memory, memorySize)
		if err != nil {
			return 0, err
		}

		if gas, overflow = math.SafeAdd(gas, params.LogGas); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = math.SafeAdd(gas, n*params.LogTopicGas); overflow {
			return 0, ErrGasUintOverflow
		}

		var memorySizeGas uint64
		if memorySizeGas, overflow = math.SafeMul(requestedSize, params.LogDataGas); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = math.SafeAdd(gas, memorySizeGas); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

// gasSLoadEIP2929 calculates dynamic gas for SLOAD according to EIP-2929
// For SLOAD, if the (address, storage_key) pair (where address is the address of the contract
// whose storage is being read) is not yet in accessed_storage_keys,
// charge 2100 gas and add the pair to accessed_storage_keys.
// If the pair is already in accessed_storage_keys, charge 100 gas.
func gasSLoadEIP2929(scope *ScopeContext, memorySize uint64) (uint64, error) {
	var (
		state = scope.Ctx.State
		addr  = scope.Ctx.Address
		slot  = common.Hash(scope.Stack.peek().Bytes32())
	)
	if !state.SlotInAccessList(addr, slot) {
		// If the caller cannot afford the cost, this change will be rolled back
		state.AddSlotToAccessList(addr, slot)
		return params.ColdSloadCostEIP2929, nil
	}
	return params.WarmStorageReadCostEIP2929, nil
}

var errSStoreSentry = errors.New("not enough gas for reentrancy sentry")

// gasSStoreEIP3529 prices SSTORE by net gas metering with the EIP-2929
// access list and the EIP-3529 refund schedule. The sentry compares against
// the gas the frame would have left after charging every instruction up to
// this one, which is Gas plus the credit a block-charging tier keeps for
// instructions it has already paid for.
func gasSStoreEIP3529(scope *ScopeContext, memorySize uint64) (uint64, error) {
	const clearingRefund = params.SstoreClearsScheduleRefundEIP3529

	// If we fail the minimum gas availability invariant, fail (0)
	if scope.Gas+scope.GasCredit <= params.SstoreSentryGasEIP2200 {
		return 0, errSStoreSentry
	}
	// Gas sentry honoured, do the actual gas calculation based on the stored value
	var (
		state   = scope.Ctx.State
		addr    = scope.Ctx.Address
		y, x    = scope.Stack.Back(1), scope.Stack.peek()
		slot    = common.Hash(x.Bytes32())
		current = state.GetState(addr, slot)
		cost    = uint64(0)
	)
	// Check slot presence in the access list
	if !state.SlotInAccessList(addr, slot) {
		cost = params.ColdSloadCostEIP2929
		// If the caller cannot afford the cost, this change will be rolled back
		state.AddSlotToAccessList(addr, slot)
	}
	value := common.Hash(y.Bytes32())

	if current == value { // noop (1)
		return cost + params.WarmStorageReadCostEIP2929, nil // SLOAD_GAS
	}
	original := state.GetCommittedState(addr, slot)
	if original == current {
		if original == (common.Hash{}) { // create slot (2.1.1)
			return cost + params.SstoreSetGasEIP2200, nil
		}
		if value == (common.Hash{}) { // delete slot (2.1.2b)
			state.AddRefund(clearingRefund)
		}
		return cost + (params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929), nil // write existing slot (2.1.2)
	}
	if original != (common.Hash{}) {
		if current == (common.Hash{}) { // recreate slot (2.2.1.1)
			state.SubRefund(clearingRefund)
		} else if value == (common.Hash{}) { // delete slot (2.2.1.2)
			state.AddRefund(clearingRefund)
		}
	}
	if original == value {
		if original == (common.Hash{}) { // reset to original inexistent slot (2.2.2.1)
			state.AddRefund(params.SstoreSetGasEIP2200 - params.WarmStorageReadCostEIP2929)
		} else { // reset to original existing slot (2.2.2.2)
			state.AddRefund((params.SstoreResetGasEIP2200 - params.ColdSloadCostEIP2929) - params.WarmStorageReadCostEIP2929)
		}
	}
	return cost + params.WarmStorageReadCostEIP2929, nil // dirty update (2.2)
}
