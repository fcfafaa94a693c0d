package threaded

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnb-chain/bsc-jit/core/opcodeCompiler/compiler"
	"github.com/bnb-chain/bsc-jit/core/vm"
)

var contractAddr = common.HexToAddress("0xc0de")

func newContext(gas uint64) *compiler.ExecutionContext {
	return &compiler.ExecutionContext{
		Address: contractAddr,
		Value:   new(uint256.Int),
		Gas:     gas,
		State:   compiler.NewStateOverlay(compiler.NewMemoryState()),
	}
}

func analyze(code []byte) *compiler.AnalyzedBytecode {
	a := compiler.Analyze(code, compiler.IdentityOf(code), nil)
	optimized, _ := compiler.OptimizeToFixedPoint(a, compiler.DefaultMaxOptimizationPasses)
	return optimized
}

func compile(t *testing.T, code []byte) *Program {
	t.Helper()
	exe, err := New().Compile(analyze(code))
	require.NoError(t, err)
	program := exe.(*Program)
	t.Cleanup(program.Release)
	return program
}

// compare runs code on both tiers and checks they agree on the outcome
// and the state left behind.
func compare(t *testing.T, code []byte, gas uint64) *compiler.Outcome {
	t.Helper()
	var (
		program = compile(t, code)
		ictx    = newContext(gas)
		cctx    = newContext(gas)
	)
	want := vm.NewInterpreter(nil).Run(ictx, code, common.Hash{})
	got := program.Execute(cctx)

	require.NoError(t, compiler.Validate(program.hash, want, ictx.State.Delta(), got, cctx.State.Delta()))
	if want.Status == compiler.StatusHalt {
		assert.Error(t, got.Err)
	}
	return got
}

func TestDifferential(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		gas    uint64
		status compiler.Status
	}{
		{"folded add", "600260030160005260206000f3", 1000, compiler.StatusSuccess},
		{"chained folds", "600160020160030160005260206000f3", 1000, compiler.StatusSuccess},
		// counts 10 down to 0 through a JUMPI back edge
		{"loop", "600a5b60019003806002570000", 10000, compiler.StatusSuccess},
		{"sstore", "600160005500", 30000, compiler.StatusSuccess},
		{"sstore out of gas", "600160005500", 100, compiler.StatusHalt},
		{"out of gas in loop", "600a5b60019003806002570000", 150, compiler.StatusHalt},
		{"revert", "600160005260206000fd", 1000, compiler.StatusRevert},
		{"jump", "6003565b00", 1000, compiler.StatusSuccess},
		{"invalid jump", "600356", 1000, compiler.StatusHalt},
		{"jump into push data", "600456605b00", 1000, compiler.StatusHalt},
		{"jump past end", "61ffff56", 1000, compiler.StatusHalt},
		{"stack underflow", "01", 1000, compiler.StatusHalt},
		{"underflow after folding", "6001600201016000", 1000, compiler.StatusHalt},
		{"undefined opcode", "60010c", 1000, compiler.StatusHalt},
		{"deployed nop byte", "6001d0", 1000, compiler.StatusHalt},
		{"designated invalid", "fe", 1000, compiler.StatusHalt},
		{"implicit stop", "6001600201", 1000, compiler.StatusSuccess},
		{"pc", "5860005260206000f3", 1000, compiler.StatusSuccess},
		{"log", "60aa60005360016000a0", 10000, compiler.StatusSuccess},
		{"keccak", "602060002060005260206000f3", 1000, compiler.StatusSuccess},
		{"memory expansion", "6001610100526020610100f3", 1000, compiler.StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := compare(t, common.FromHex(tt.code), tt.gas)
			assert.Equal(t, tt.status, out.Status)
		})
	}
}

func TestFoldedCodeKeepsGas(t *testing.T) {
	code := common.FromHex("600260030160005260206000f3")
	a := analyze(code)
	require.True(t, a.Optimized())

	out := compile(t, code).Execute(newContext(1000))
	require.Equal(t, compiler.StatusSuccess, out.Status)
	// charged as push, push, add rather than the folded push
	assert.Equal(t, uint64(24), out.GasUsed)
	assert.Equal(t, uint64(5), new(uint256.Int).SetBytes(out.ReturnData).Uint64())
}

func TestGasOpcodeSeesCredit(t *testing.T) {
	// push 2, push 3, add, pop, gas, mstore, return the gas reading
	code := common.FromHex("6002600301505a60005260206000f3")
	out := compare(t, code, 1000)
	require.Equal(t, compiler.StatusSuccess, out.Status)
	// 3+3+3+2 before GAS and 2 for GAS itself
	assert.Equal(t, uint64(1000-13), new(uint256.Int).SetBytes(out.ReturnData).Uint64())
}

func TestSstoreSentrySeesCredit(t *testing.T) {
	// sstore 0 to slot 0 followed by cheap instructions in the same block
	code := common.FromHex("600060005560005060005000")

	// 2301 left at the sstore passes the sentry
	out := compare(t, code, 2307)
	assert.Equal(t, compiler.StatusSuccess, out.Status)
	assert.Equal(t, uint64(16+2200), out.GasUsed)

	// 2300 left does not
	out = compare(t, code, 2306)
	assert.Equal(t, compiler.StatusHalt, out.Status)
}

func TestStackOverflowParity(t *testing.T) {
	code := make([]byte, 1025)
	for i := range code {
		code[i] = byte(compiler.PUSH0)
	}
	out := compare(t, code, 10000)
	assert.Equal(t, compiler.StatusHalt, out.Status)
	assert.ErrorIs(t, out.Err, vm.ErrStackOverflow)
}

func TestUnsupportedOpcode(t *testing.T) {
	_, err := New().Compile(analyze(common.FromHex("6000600060006000600060006000f1")))
	assert.ErrorIs(t, err, compiler.ErrUnsupportedOpcode)
	assert.Contains(t, err.Error(), "CALL")

	// Behind a STOP the call is dead code.
	code := common.FromHex("00f1")
	program := compile(t, code)
	out := program.Execute(newContext(100))
	assert.Equal(t, compiler.StatusSuccess, out.Status)
	assert.Zero(t, out.GasUsed)
}

func TestSharedStateAcrossTiers(t *testing.T) {
	var (
		base    = compiler.NewMemoryState()
		slot    = common.Hash{}
		one     = common.BigToHash(common.Big1)
		program = compile(t, common.FromHex("600060005500"))
	)
	base.SetState(contractAddr, slot, one)
	ctx := newContext(30000)
	ctx.State = compiler.NewStateOverlay(base)

	out := program.Execute(ctx)
	require.Equal(t, compiler.StatusSuccess, out.Status)
	assert.Equal(t, uint64(4800), ctx.State.GetRefund())
	ctx.State.Commit()
	assert.Equal(t, common.Hash{}, base.GetState(contractAddr, slot))
}

func TestInitAndRelease(t *testing.T) {
	b := New()
	require.NoError(t, b.Init())

	exe, err := b.Compile(analyze(common.FromHex("00")))
	require.NoError(t, err)
	releaser, ok := exe.(compiler.Releaser)
	require.True(t, ok)
	assert.False(t, exe.(*Program).released.Load())

	releaser.Release()
	releaser.Release()
	assert.True(t, exe.(*Program).released.Load())

	// Released programs still run.
	assert.Equal(t, compiler.StatusSuccess, exe.Execute(newContext(10)).Status)
}

func TestEmptyProgram(t *testing.T) {
	exe, err := New().Compile(analyze(nil))
	require.NoError(t, err)
	defer exe.(*Program).Release()

	out := exe.Execute(newContext(100))
	assert.Equal(t, compiler.StatusSuccess, out.Status)
	assert.Zero(t, out.GasUsed)
}
