package compiler

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(code []byte) *AnalyzedBytecode {
	return Analyze(code, IdentityOf(code), nil)
}

func TestAnalyzeEmpty(t *testing.T) {
	a := analyze(nil)
	assert.Empty(t, a.Blocks)
	assert.Empty(t, a.JumpTargets)
	assert.Zero(t, a.OpcodeCount)
	assert.False(t, a.HasExternalCalls)
}

func TestAnalyzeTruncatedPush(t *testing.T) {
	// PUSH2 with a single immediate byte
	a := analyze(common.FromHex("6101"))
	require.Len(t, a.Blocks, 1)
	assert.Equal(t, BasicBlock{Start: 0, End: 1}, a.Blocks[0])
	assert.Equal(t, 1, a.OpcodeCount)

	var insts []Instruction
	a.Instructions(a.Blocks[0], func(inst Instruction) bool {
		insts = append(insts, inst)
		return true
	})
	require.Len(t, insts, 1)
	assert.Equal(t, []byte{0x01}, insts[0].Data)
}

func TestAnalyzeJumpdestInPushData(t *testing.T) {
	// PUSH1 0x5b, JUMPDEST, STOP
	a := analyze(common.FromHex("605b5b00"))
	assert.Equal(t, []uint64{2}, a.JumpTargets)
	assert.False(t, a.IsJumpTarget(1))
	assert.True(t, a.IsJumpTarget(2))
	assert.Equal(t, []BasicBlock{{0, 1}, {2, 3}}, a.Blocks)
	assert.Equal(t, 3, a.OpcodeCount)
}

func TestAnalyzeTerminatorsEndBlocks(t *testing.T) {
	// PUSH1 4, JUMP, INVALID, JUMPDEST, PUSH1 0, PUSH1 0, RETURN
	a := analyze(common.FromHex("600456fe5b60006000f3"))
	assert.Equal(t, []BasicBlock{{0, 2}, {3, 3}, {4, 9}}, a.Blocks)
	assert.Equal(t, []uint64{4}, a.JumpTargets)
}

func TestAnalyzeExternalCalls(t *testing.T) {
	assert.False(t, analyze(common.FromHex("6001600201")).HasExternalCalls)
	assert.True(t, analyze(common.FromHex("60006000f1")).HasExternalCalls)
	// CALL byte hidden in push data
	assert.False(t, analyze(common.FromHex("60f100")).HasExternalCalls)
}

func TestAnalyzeKnownJumpTargets(t *testing.T) {
	code := common.FromHex("5b60015b6002575b00")
	computed := analyze(code)
	known := Analyze(code, IdentityOf(code), computed.JumpTargets)
	assert.Equal(t, computed.Blocks, known.Blocks)
	assert.Equal(t, computed.JumpTargets, known.JumpTargets)
}

// Blocks must cover the code exactly, in order, and only start at jump
// targets or after a terminator.
func TestAnalyzeRandomCodeInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		code := make([]byte, rng.Intn(300))
		rng.Read(code)
		a := analyze(code)

		if len(code) == 0 {
			require.Empty(t, a.Blocks)
			continue
		}
		require.NotEmpty(t, a.Blocks)
		require.Zero(t, a.Blocks[0].Start)
		require.Equal(t, uint64(len(code)-1), a.Blocks[len(a.Blocks)-1].End)
		for j := 1; j < len(a.Blocks); j++ {
			require.Equal(t, a.Blocks[j-1].End+1, a.Blocks[j].Start, "code %x", code)
		}
		for _, target := range a.JumpTargets {
			require.Equal(t, byte(JUMPDEST), code[target])
			found := false
			for _, b := range a.Blocks {
				if b.Start == target {
					found = true
				}
			}
			require.True(t, found, "jump target %d does not start a block", target)
		}
		var ops int
		for _, b := range a.Blocks {
			a.Instructions(b, func(Instruction) bool {
				ops++
				return true
			})
		}
		require.Equal(t, a.OpcodeCount, ops)
	}
}
