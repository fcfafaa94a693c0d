// Copyright 2024 The go-ethereum Authors
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

package vm_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/threaded"
	"github.com/bnb-chain/bsc-jit/core/vm"
)

var contractAddr = common.HexToAddress("0xc0de")

// counter increments slot 0 and returns the new value.
var counterCode = common.FromHex("600054600101806000556000526020" + "6000f3")

func newEVM(t *testing.T, mutate func(*compiler.Config)) *vm.EVM {
	t.Helper()
	cfg := compiler.DefaultConfig
	cfg.HotThreshold = 2
	cfg.CompilerWorkers = 2
	cfg.JumpDestCacheBytes = 1 << 20
	if mutate != nil {
		mutate(&cfg)
	}
	evm, err := vm.NewEVM(cfg, threaded.New())
	require.NoError(t, err)
	t.Cleanup(evm.Close)
	return evm
}

func call(evm *vm.EVM, state *compiler.StateOverlay, code []byte) *compiler.Outcome {
	return evm.Call(&compiler.ExecutionContext{
		Address: contractAddr,
		Value:   new(uint256.Int),
		Gas:     100000,
		State:   state,
	}, code)
}

func TestEVMTiersUp(t *testing.T) {
	var (
		evm   = newEVM(t, nil)
		state = compiler.NewStateOverlay(compiler.NewMemoryState())
		hash  = compiler.IdentityOf(counterCode)
		used  []uint64
	)
	for i := uint64(1); i <= 6; i++ {
		out := call(evm, state, counterCode)
		require.Equal(t, compiler.StatusSuccess, out.Status)
		assert.Equal(t, i, new(uint256.Int).SetBytes(out.ReturnData).Uint64())
		used = append(used, out.GasUsed)
		if i == 2 {
			evm.Dispatcher().Wait()
			require.Equal(t, compiler.Hot, evm.Dispatcher().State(hash))
		}
	}
	// Every call after the first rewrites a warm, non-zero slot.
	for _, gas := range used[2:] {
		assert.Equal(t, used[1], gas)
	}
	stats := evm.Dispatcher().Stats()
	assert.Equal(t, uint64(2), stats.Interpreted)
	assert.Equal(t, uint64(4), stats.CompiledRuns)
	assert.Equal(t, common.BigToHash(uint256.NewInt(6).ToBig()), state.GetState(contractAddr, common.Hash{}))
}

func TestEVMValidationWithRealBackend(t *testing.T) {
	evm := newEVM(t, func(c *compiler.Config) {
		c.HotThreshold = 1
		c.ValidationMode = true
	})
	var mismatches int
	evm.Dispatcher().OnMismatch = func(*compiler.ValidationMismatch) { mismatches++ }

	state := compiler.NewStateOverlay(compiler.NewMemoryState())
	call(evm, state, counterCode)
	evm.Dispatcher().Wait()

	for i := 0; i < 5; i++ {
		out := call(evm, state, counterCode)
		require.Equal(t, compiler.StatusSuccess, out.Status)
	}
	stats := evm.Dispatcher().Stats()
	assert.Equal(t, uint64(5), stats.Validations)
	assert.Zero(t, mismatches)
	assert.Equal(t, compiler.Hot, evm.Dispatcher().State(compiler.IdentityOf(counterCode)))
}

func TestEVMConcurrentCalls(t *testing.T) {
	var (
		evm = newEVM(t, nil)
		g   errgroup.Group
	)
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			// Each goroutine has its own storage.
			state := compiler.NewStateOverlay(compiler.NewMemoryState())
			for j := uint64(1); j <= 20; j++ {
				out := call(evm, state, counterCode)
				if out.Status != compiler.StatusSuccess || new(uint256.Int).SetBytes(out.ReturnData).Uint64() != j {
					return assert.AnError
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestEVMUnsupportedCodeStaysInterpreted(t *testing.T) {
	evm := newEVM(t, func(c *compiler.Config) { c.HotThreshold = 1 })
	code := common.FromHex("6000600060006000600060006000f1")
	state := compiler.NewStateOverlay(compiler.NewMemoryState())

	out := call(evm, state, code)
	assert.Equal(t, compiler.StatusHalt, out.Status)
	assert.ErrorIs(t, out.Err, compiler.ErrUnsupportedOpcode)
	evm.Dispatcher().Wait()
	assert.Equal(t, compiler.Rejected, evm.Dispatcher().State(compiler.IdentityOf(code)))
}

func TestEVMCallDepth(t *testing.T) {
	evm := newEVM(t, nil)
	ctx := &compiler.ExecutionContext{Gas: 100, Depth: int(params.CallCreateDepth) + 1}
	out := evm.Call(ctx, counterCode)
	assert.Equal(t, compiler.StatusHalt, out.Status)
	assert.ErrorIs(t, out.Err, vm.ErrDepth)
	assert.Zero(t, out.GasUsed)
}

func TestEVMInterpreterOnly(t *testing.T) {
	evm, err := vm.NewEVM(compiler.DefaultConfig, nil)
	require.ErrorIs(t, err, compiler.ErrBackendUnavailable)
	defer evm.Close()

	state := compiler.NewStateOverlay(compiler.NewMemoryState())
	for i := uint64(1); i <= 3; i++ {
		out := call(evm, state, counterCode)
		require.Equal(t, compiler.StatusSuccess, out.Status)
		assert.Equal(t, i, new(uint256.Int).SetBytes(out.ReturnData).Uint64())
	}
	assert.False(t, evm.Dispatcher().Enabled())
}
