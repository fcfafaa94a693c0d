package compiler

import (
	"bytes"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Status classifies how an execution ended.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusRevert
	StatusHalt
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRevert:
		return "revert"
	case StatusHalt:
		return "halt"
	}
	return "unknown"
}

// Outcome is the uniform result of running a call on either tier.
type Outcome struct {
	Status     Status
	ReturnData []byte
	GasUsed    uint64
	Err        error // halt reason, nil unless Status is StatusHalt
}

// ExecutionContext is the per-call environment both tiers execute
// against.
type ExecutionContext struct {
	Address  common.Address
	Caller   common.Address
	Value    *uint256.Int
	Input    []byte
	Gas      uint64
	Depth    int
	ReadOnly bool
	State    *StateOverlay
}

// Fork returns an equivalent context whose state mutations are buffered
// in a child overlay and only reach c after Commit.
func (c *ExecutionContext) Fork() *ExecutionContext {
	cpy := *c
	if c.State != nil {
		cpy.State = c.State.Fork()
	}
	return &cpy
}

// StateBackend is the persistent storage a call reads and mutates.
type StateBackend interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)
}

type slotKey struct {
	addr common.Address
	key  common.Hash
}

// MemoryState is an in-memory StateBackend safe for concurrent use.
type MemoryState struct {
	mu    sync.RWMutex
	slots map[slotKey]common.Hash
}

func NewMemoryState() *MemoryState {
	return &MemoryState{slots: make(map[slotKey]common.Hash)}
}

func (m *MemoryState) GetState(addr common.Address, key common.Hash) common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots[slotKey{addr, key}]
}

func (m *MemoryState) SetState(addr common.Address, key common.Hash, value common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == (common.Hash{}) {
		delete(m.slots, slotKey{addr, key})
		return
	}
	m.slots[slotKey{addr, key}] = value
}

// StorageWrite is one buffered slot mutation.
type StorageWrite struct {
	Address common.Address
	Key     common.Hash
	Value   common.Hash
}

// StateDelta is what an execution would apply to its parent state.
type StateDelta struct {
	Writes []StorageWrite // sorted by address then key
	Logs   []*types.Log
	Refund uint64
}

// StateOverlay buffers the storage writes, warm slots, logs and refund of
// an execution on top of a parent overlay or, at the root, a backend. An
// overlay is used by one execution at a time.
type StateOverlay struct {
	parent *StateOverlay
	base   StateBackend

	dirty  map[slotKey]common.Hash
	warm   map[slotKey]struct{}
	logs   []*types.Log
	refund uint64
}

// NewStateOverlay creates a root overlay over base. The values of base are
// the committed values SSTORE gas is computed against.
func NewStateOverlay(base StateBackend) *StateOverlay {
	return &StateOverlay{
		base:  base,
		dirty: make(map[slotKey]common.Hash),
		warm:  make(map[slotKey]struct{}),
	}
}

// Fork returns a child overlay reading through s.
func (s *StateOverlay) Fork() *StateOverlay {
	child := NewStateOverlay(s.base)
	child.parent = s
	child.refund = s.refund
	return child
}

func (s *StateOverlay) GetState(addr common.Address, key common.Hash) common.Hash {
	k := slotKey{addr, key}
	for o := s; o != nil; o = o.parent {
		if v, ok := o.dirty[k]; ok {
			return v
		}
	}
	return s.base.GetState(addr, key)
}

// GetCommittedState returns the value of the slot before the transaction.
func (s *StateOverlay) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	return s.base.GetState(addr, key)
}

func (s *StateOverlay) SetState(addr common.Address, key common.Hash, value common.Hash) {
	s.dirty[slotKey{addr, key}] = value
}

// SlotInAccessList reports whether the slot was already touched.
func (s *StateOverlay) SlotInAccessList(addr common.Address, key common.Hash) bool {
	k := slotKey{addr, key}
	for o := s; o != nil; o = o.parent {
		if _, ok := o.warm[k]; ok {
			return true
		}
	}
	return false
}

func (s *StateOverlay) AddSlotToAccessList(addr common.Address, key common.Hash) {
	s.warm[slotKey{addr, key}] = struct{}{}
}

func (s *StateOverlay) AddLog(log *types.Log) {
	s.logs = append(s.logs, log)
}

// Logs returns the logs emitted through this overlay and committed into
// it by children.
func (s *StateOverlay) Logs() []*types.Log {
	return s.logs
}

func (s *StateOverlay) AddRefund(gas uint64) {
	s.refund += gas
}

// SubRefund removes gas from the refund counter, flooring at zero.
func (s *StateOverlay) SubRefund(gas uint64) {
	if gas > s.refund {
		s.refund = 0
		return
	}
	s.refund -= gas
}

func (s *StateOverlay) GetRefund() uint64 {
	return s.refund
}

// Commit applies the buffered mutations to the parent overlay, or to the
// backend for a root overlay. The overlay is empty afterwards.
func (s *StateOverlay) Commit() {
	if s.parent == nil {
		for k, v := range s.dirty {
			s.base.SetState(k.addr, k.key, v)
		}
		s.dirty = make(map[slotKey]common.Hash)
		s.warm = make(map[slotKey]struct{})
		s.refund = 0
		return
	}
	for k, v := range s.dirty {
		s.parent.dirty[k] = v
	}
	for k := range s.warm {
		s.parent.warm[k] = struct{}{}
	}
	s.parent.logs = append(s.parent.logs, s.logs...)
	s.parent.refund = s.refund

	s.dirty = make(map[slotKey]common.Hash)
	s.warm = make(map[slotKey]struct{})
	s.logs = nil
}

// Delta returns the mutations buffered in this overlay.
func (s *StateOverlay) Delta() *StateDelta {
	delta := &StateDelta{
		Writes: make([]StorageWrite, 0, len(s.dirty)),
		Logs:   s.logs,
		Refund: s.refund,
	}
	for k, v := range s.dirty {
		delta.Writes = append(delta.Writes, StorageWrite{Address: k.addr, Key: k.key, Value: v})
	}
	slices.SortFunc(delta.Writes, func(a, b StorageWrite) int {
		if c := bytes.Compare(a.Address[:], b.Address[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.Key[:], b.Key[:])
	})
	return delta
}
