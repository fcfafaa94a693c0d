package vm

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

func TestMemorySetAndGet(t *testing.T) {
	m := NewMemory()
	defer m.Free()

	m.Resize(64)
	assert.Equal(t, 64, m.Len())
	m.Set32(0, uint256.NewInt(0x0102))
	assert.Equal(t, []byte{0x01, 0x02}, m.GetCopy(30, 2))

	m.Set(40, 3, []byte{7, 8, 9})
	ptr := m.GetPtr(40, 3)
	assert.Equal(t, []byte{7, 8, 9}, ptr)

	cpy := m.GetCopy(40, 3)
	cpy[0] = 0
	assert.Equal(t, byte(7), m.Data()[40])
	assert.Nil(t, m.GetCopy(0, 0))
}

func TestMemoryResizeNeverShrinks(t *testing.T) {
	m := NewMemory()
	defer m.Free()

	m.Resize(96)
	m.Resize(32)
	assert.Equal(t, 96, m.Len())
}

func TestMemoryGasCost(t *testing.T) {
	m := NewMemory()
	defer m.Free()

	// 1 word costs 3, 32 words cost 3*32 + 32*32/512
	cost, err := memoryGasCost(m, 32)
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), cost)

	m.Resize(32)
	cost, err = memoryGasCost(m, 32*32)
	assert.NoError(t, err)
	assert.Equal(t, uint64(3*32+2-3), cost)
}

func BenchmarkResize(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m := NewMemory()
		m.Resize(1024)
		m.Free()
	}
}
