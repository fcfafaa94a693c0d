package compiler

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IdentityOf returns the code identity of a bytecode body.
func IdentityOf(code []byte) common.Hash {
	return crypto.Keccak256Hash(code)
}

// BasicBlock is a straight-line range of bytecode, [Start, End] inclusive.
type BasicBlock struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by the block.
func (b BasicBlock) Len() uint64 { return b.End - b.Start + 1 }

// Instruction is one decoded opcode together with its immediate bytes.
type Instruction struct {
	PC   uint64
	Op   ByteCode
	Data []byte // immediate bytes, truncated at the end of code
}

// AnalyzedBytecode is the static view of a code body shared by the
// optimizer and the backend. Values are never mutated after construction;
// optimization produces a new one.
type AnalyzedBytecode struct {
	Hash     common.Hash
	Code     []byte // bytes the backend lowers, equal to Original until optimized
	Original []byte // the deployed code, never rewritten

	JumpTargets      []uint64     // ascending offsets of valid jump destinations
	OpcodeCount      int          // decoded instructions, immediates excluded
	Blocks           []BasicBlock // ascending, non-overlapping, covering the code
	HasExternalCalls bool         // CALL family, CREATE family or SELFDESTRUCT decoded

	jumpdests Bitmap
	padding   Bitmap // bytes turned into Nop by the optimizer, nil if none
}

// Analyze partitions code into basic blocks. It accepts arbitrary input:
// truncated pushes are clamped to the end of the code and JUMPDEST bytes
// inside push data are not jump targets. When knownJumpTargets is non-nil
// it is taken as the jump destination set of code, otherwise the set is
// computed.
func Analyze(code []byte, hash common.Hash, knownJumpTargets []uint64) *AnalyzedBytecode {
	a := &AnalyzedBytecode{
		Hash:     hash,
		Code:     code,
		Original: code,
	}
	size := uint64(len(code))
	if knownJumpTargets != nil {
		a.jumpdests = NewBitmap(len(code))
		for _, target := range knownJumpTargets {
			if target < size {
				a.jumpdests.set(target)
			}
		}
	} else {
		a.jumpdests = ComputeJumpDests(code)
	}
	var (
		start uint64
		open  bool
	)
	for pc := uint64(0); pc < size; {
		op := ByteCode(code[pc])
		if a.jumpdests.Has(pc) {
			if open && pc > start {
				a.Blocks = append(a.Blocks, BasicBlock{Start: start, End: pc - 1})
			}
			start, open = pc, true
		} else if !open {
			start, open = pc, true
		}
		a.OpcodeCount++
		if op.IsExternalCall() {
			a.HasExternalCalls = true
		}
		next := pc + 1 + uint64(op.PushSize())
		if next > size {
			next = size
		}
		if op.IsTerminator() {
			a.Blocks = append(a.Blocks, BasicBlock{Start: start, End: next - 1})
			open = false
		}
		pc = next
	}
	if open {
		a.Blocks = append(a.Blocks, BasicBlock{Start: start, End: size - 1})
	}
	a.JumpTargets = bitmapTargets(a.jumpdests, len(code))
	return a
}

// IsJumpTarget reports whether pc is a valid jump destination.
func (a *AnalyzedBytecode) IsJumpTarget(pc uint64) bool {
	return a.jumpdests.Has(pc)
}

// IsPadding reports whether the byte at pc was freed by constant folding.
func (a *AnalyzedBytecode) IsPadding(pc uint64) bool {
	return a.padding.Has(pc)
}

// Optimized reports whether any byte was rewritten by the optimizer.
func (a *AnalyzedBytecode) Optimized() bool {
	for _, b := range a.padding {
		if b != 0 {
			return true
		}
	}
	return false
}

// Instructions decodes the (possibly optimized) code of block, skipping
// padding, and calls fn for each instruction until it returns false.
func (a *AnalyzedBytecode) Instructions(block BasicBlock, fn func(Instruction) bool) {
	decode(a.Code, a.padding, block, fn)
}

// OriginalInstructions decodes block from the deployed code.
func (a *AnalyzedBytecode) OriginalInstructions(block BasicBlock, fn func(Instruction) bool) {
	decode(a.Original, nil, block, fn)
}

func decode(code []byte, padding Bitmap, block BasicBlock, fn func(Instruction) bool) {
	size := uint64(len(code))
	end := block.End + 1
	if end > size {
		end = size
	}
	for pc := block.Start; pc < end; {
		if padding.Has(pc) {
			pc++
			continue
		}
		op := ByteCode(code[pc])
		next := pc + 1 + uint64(op.PushSize())
		if next > size {
			next = size
		}
		if !fn(Instruction{PC: pc, Op: op, Data: code[pc+1 : next]}) {
			return
		}
		pc = next
	}
}

// clone returns a copy whose code and padding can be rewritten without
// touching a.
func (a *AnalyzedBytecode) clone() *AnalyzedBytecode {
	cpy := *a
	cpy.Code = common.CopyBytes(a.Code)
	if a.padding == nil {
		cpy.padding = NewBitmap(len(a.Code))
	} else {
		cpy.padding = a.padding.copy()
	}
	return &cpy
}
