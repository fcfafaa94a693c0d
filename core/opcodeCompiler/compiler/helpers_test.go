package compiler

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	testAddress = common.HexToAddress("0xc0de")
	testSlot    = common.HexToHash("0x01")
)

func newTestContext(gas uint64) *ExecutionContext {
	return &ExecutionContext{
		Address: testAddress,
		Value:   new(uint256.Int),
		Gas:     gas,
		State:   NewStateOverlay(NewMemoryState()),
	}
}

// stubProgram is an Executable whose behaviour is set by the test.
type stubProgram struct {
	run      func(ctx *ExecutionContext) *Outcome
	runs     atomic.Int32
	released atomic.Int32
}

func (p *stubProgram) Execute(ctx *ExecutionContext) *Outcome {
	p.runs.Add(1)
	if p.run == nil {
		return &Outcome{Status: StatusSuccess}
	}
	return p.run(ctx)
}

func (p *stubProgram) Release() { p.released.Add(1) }

// stubBackend compiles everything into the same stubProgram unless
// compile is set.
type stubBackend struct {
	program *stubProgram
	compile func(code *AnalyzedBytecode) (Executable, error)
	calls   atomic.Int32
	initErr error
}

func newStubBackend(run func(ctx *ExecutionContext) *Outcome) *stubBackend {
	return &stubBackend{program: &stubProgram{run: run}}
}

func (b *stubBackend) Init() error { return b.initErr }

func (b *stubBackend) Compile(code *AnalyzedBytecode) (Executable, error) {
	b.calls.Add(1)
	if b.compile != nil {
		return b.compile(code)
	}
	return b.program, nil
}

func readyArtifact(hash common.Hash) (*CompiledArtifact, *stubProgram) {
	program := new(stubProgram)
	return &CompiledArtifact{Hash: hash, Program: program}, program
}

func testConfig() Config {
	cfg := DefaultConfig
	cfg.HotThreshold = 3
	cfg.CompilerWorkers = 2
	cfg.JumpDestCacheBytes = 1 << 20
	return cfg
}

// writeSlot returns an InterpretFunc storing value in testSlot and
// succeeding with gas used.
func writeSlot(value common.Hash, gas uint64, calls *atomic.Int32) InterpretFunc {
	return func(ctx *ExecutionContext) *Outcome {
		if calls != nil {
			calls.Add(1)
		}
		ctx.State.SetState(ctx.Address, testSlot, value)
		return &Outcome{Status: StatusSuccess, GasUsed: gas}
	}
}
