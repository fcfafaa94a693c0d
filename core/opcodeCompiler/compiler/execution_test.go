package compiler

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlayForkCommit(t *testing.T) {
	var (
		base  = NewMemoryState()
		root  = NewStateOverlay(base)
		one   = common.HexToHash("0x01")
		two   = common.HexToHash("0x02")
		other = common.HexToHash("0x99")
	)
	base.SetState(testAddress, testSlot, one)

	child := root.Fork()
	child.SetState(testAddress, testSlot, two)
	child.AddSlotToAccessList(testAddress, testSlot)
	child.AddLog(&types.Log{Address: testAddress})
	child.AddRefund(10)

	assert.Equal(t, two, child.GetState(testAddress, testSlot))
	assert.Equal(t, one, child.GetCommittedState(testAddress, testSlot))
	assert.Equal(t, one, root.GetState(testAddress, testSlot))
	assert.False(t, root.SlotInAccessList(testAddress, testSlot))

	// A discarded sibling leaves no trace.
	sibling := root.Fork()
	sibling.SetState(testAddress, other, two)

	child.Commit()
	assert.Equal(t, two, root.GetState(testAddress, testSlot))
	assert.True(t, root.SlotInAccessList(testAddress, testSlot))
	assert.Len(t, root.Logs(), 1)
	assert.Equal(t, uint64(10), root.GetRefund())
	assert.Equal(t, one, base.GetState(testAddress, testSlot))
	assert.Equal(t, common.Hash{}, root.GetState(testAddress, other))

	root.Commit()
	assert.Equal(t, two, base.GetState(testAddress, testSlot))
}

func TestOverlayRefundFloor(t *testing.T) {
	s := NewStateOverlay(NewMemoryState())
	s.AddRefund(5)
	s.SubRefund(8)
	assert.Zero(t, s.GetRefund())
}

func TestOverlayDeltaSorted(t *testing.T) {
	s := NewStateOverlay(NewMemoryState())
	s.SetState(common.HexToAddress("0x02"), common.HexToHash("0x01"), common.HexToHash("0x0a"))
	s.SetState(common.HexToAddress("0x01"), common.HexToHash("0x02"), common.HexToHash("0x0b"))
	s.SetState(common.HexToAddress("0x01"), common.HexToHash("0x01"), common.HexToHash("0x0c"))

	delta := s.Delta()
	require.Len(t, delta.Writes, 3)
	assert.Equal(t, common.HexToAddress("0x01"), delta.Writes[0].Address)
	assert.Equal(t, common.HexToHash("0x01"), delta.Writes[0].Key)
	assert.Equal(t, common.HexToHash("0x02"), delta.Writes[1].Key)
	assert.Equal(t, common.HexToAddress("0x02"), delta.Writes[2].Address)
}

func TestContextForkIsolation(t *testing.T) {
	ctx := newTestContext(100)
	fork := ctx.Fork()
	fork.Gas = 1
	fork.State.SetState(testAddress, testSlot, common.HexToHash("0x05"))

	assert.Equal(t, uint64(100), ctx.Gas)
	assert.Equal(t, common.Hash{}, ctx.State.GetState(testAddress, testSlot))
	fork.State.Commit()
	assert.Equal(t, common.HexToHash("0x05"), ctx.State.GetState(testAddress, testSlot))
}
