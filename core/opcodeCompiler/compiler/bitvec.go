package compiler

// Bitmap is a bit vector which maps bytes in a program. What a set bit
// means depends on the owner: a valid jump destination for jumpdest
// analysis, a padding byte for optimized code.
type Bitmap []byte

// NewBitmap returns a zeroed bitmap able to address size bytes.
func NewBitmap(size int) Bitmap {
	return make(Bitmap, (size+7)/8)
}

func (bits Bitmap) set(pos uint64) {
	bits[pos/8] |= 1 << (pos % 8)
}

func (bits Bitmap) clear(pos uint64) {
	bits[pos/8] &^= 1 << (pos % 8)
}

// Has reports whether the bit at pos is set. Positions outside the
// bitmap are unset.
func (bits Bitmap) Has(pos uint64) bool {
	if pos/8 >= uint64(len(bits)) {
		return false
	}
	return bits[pos/8]&(1<<(pos%8)) != 0
}

func (bits Bitmap) copy() Bitmap {
	if bits == nil {
		return nil
	}
	cpy := make(Bitmap, len(bits))
	copy(cpy, bits)
	return cpy
}

// ComputeJumpDests collects the JUMPDEST opcodes that sit on an
// instruction boundary. JUMPDEST bytes inside push immediates are data.
func ComputeJumpDests(code []byte) Bitmap {
	bits := NewBitmap(len(code))
	size := uint64(len(code))
	for pc := uint64(0); pc < size; {
		op := ByteCode(code[pc])
		if op == JUMPDEST {
			bits.set(pc)
		}
		pc += 1 + uint64(op.PushSize())
	}
	return bits
}
