package compiler

import (
	"bytes"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/hashicorp/go-multierror"
)

// ValidationMismatch describes how a compiled execution diverged from the
// interpreter on the same input.
type ValidationMismatch struct {
	Hash        common.Hash
	Interpreted *Outcome
	Compiled    *Outcome
	Diffs       *multierror.Error
}

func (m *ValidationMismatch) Error() string {
	return fmt.Sprintf("jit validation mismatch for %x: %v", m.Hash[:8], m.Diffs.ErrorOrNil())
}

func (m *ValidationMismatch) Unwrap() error { return m.Diffs.ErrorOrNil() }

func (m *ValidationMismatch) Is(target error) bool { return target == ErrValidationMismatch }

// Validate compares the compiled outcome and state delta of one call with
// the interpreted ones. It returns nil when they agree and a
// *ValidationMismatch listing every divergence otherwise. State is only
// compared for successful executions: reverted and halted frames discard
// their writes.
func Validate(hash common.Hash, want *Outcome, wantState *StateDelta, got *Outcome, gotState *StateDelta) error {
	diffs := new(multierror.Error)
	diffs.ErrorFormat = func(errs []error) string {
		var b bytes.Buffer
		for i, err := range errs {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(err.Error())
		}
		return b.String()
	}
	if want.Status != got.Status {
		diffs = multierror.Append(diffs, fmt.Errorf("status: interpreted %v, compiled %v (err %v)", want.Status, got.Status, got.Err))
	}
	if want.GasUsed != got.GasUsed {
		diffs = multierror.Append(diffs, fmt.Errorf("gas used: interpreted %d, compiled %d", want.GasUsed, got.GasUsed))
	}
	if !bytes.Equal(want.ReturnData, got.ReturnData) {
		diffs = multierror.Append(diffs, fmt.Errorf("return data: interpreted %x, compiled %x", want.ReturnData, got.ReturnData))
	}
	if want.Status == StatusSuccess && got.Status == StatusSuccess {
		diffs = compareDeltas(diffs, wantState, gotState)
	}
	if diffs.ErrorOrNil() == nil {
		return nil
	}
	return &ValidationMismatch{Hash: hash, Interpreted: want, Compiled: got, Diffs: diffs}
}

func compareDeltas(diffs *multierror.Error, want, got *StateDelta) *multierror.Error {
	if want == nil {
		want = new(StateDelta)
	}
	if got == nil {
		got = new(StateDelta)
	}
	var (
		wantWrites = writeMap(want.Writes)
		gotWrites  = writeMap(got.Writes)
		wantKeys   = mapset.NewThreadUnsafeSet[slotKey]()
		gotKeys    = mapset.NewThreadUnsafeSet[slotKey]()
	)
	for k := range wantWrites {
		wantKeys.Add(k)
	}
	for k := range gotWrites {
		gotKeys.Add(k)
	}
	for _, k := range wantKeys.Difference(gotKeys).ToSlice() {
		diffs = multierror.Append(diffs, fmt.Errorf("slot %x/%x: written only by interpreter", k.addr, k.key))
	}
	for _, k := range gotKeys.Difference(wantKeys).ToSlice() {
		diffs = multierror.Append(diffs, fmt.Errorf("slot %x/%x: written only by compiled code", k.addr, k.key))
	}
	for _, k := range wantKeys.Intersect(gotKeys).ToSlice() {
		if wantWrites[k] != gotWrites[k] {
			diffs = multierror.Append(diffs, fmt.Errorf("slot %x/%x: interpreted %x, compiled %x", k.addr, k.key, wantWrites[k], gotWrites[k]))
		}
	}
	if len(want.Logs) != len(got.Logs) {
		diffs = multierror.Append(diffs, fmt.Errorf("logs: interpreted %d, compiled %d", len(want.Logs), len(got.Logs)))
	} else {
		for i := range want.Logs {
			if !sameLog(want.Logs[i], got.Logs[i]) {
				diffs = multierror.Append(diffs, fmt.Errorf("log %d differs", i))
			}
		}
	}
	if want.Refund != got.Refund {
		diffs = multierror.Append(diffs, fmt.Errorf("refund: interpreted %d, compiled %d", want.Refund, got.Refund))
	}
	return diffs
}

func writeMap(writes []StorageWrite) map[slotKey]common.Hash {
	m := make(map[slotKey]common.Hash, len(writes))
	for _, w := range writes {
		m[slotKey{w.Address, w.Key}] = w.Value
	}
	return m
}

func sameLog(a, b *types.Log) bool {
	if a.Address != b.Address || !bytes.Equal(a.Data, b.Data) || len(a.Topics) != len(b.Topics) {
		return false
	}
	for i := range a.Topics {
		if a.Topics[i] != b.Topics[i] {
			return false
		}
	}
	return true
}
