package compiler

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrCompilationFailed matches every reason recorded for a Failed entry.
	ErrCompilationFailed = errors.New("jit compilation failed")
	// ErrBytecodeTooLarge rejects code above the configured size before it
	// reaches the backend.
	ErrBytecodeTooLarge = errors.New("bytecode too large for jit")
	// ErrQueueFull is recorded when a hot identity could not be queued.
	ErrQueueFull = errors.New("jit compile queue full")
	// ErrCompilerPanic is recorded when compiling an identity panicked.
	ErrCompilerPanic = errors.New("jit compiler panicked")
	// ErrUnsupportedOpcode is returned by backends for reachable opcodes
	// they cannot lower.
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	// ErrNotPending is returned when publishing an identity that has no
	// compilation in flight.
	ErrNotPending = errors.New("identity is not pending compilation")
	// ErrBackendUnavailable means the backend could not start; the
	// dispatcher keeps running in interpreter-only mode.
	ErrBackendUnavailable = errors.New("jit backend unavailable")
	// ErrValidationMismatch matches every *ValidationMismatch.
	ErrValidationMismatch = errors.New("jit validation mismatch")
	// ErrCompiledPanic is recorded when a compiled program panics at run time.
	ErrCompiledPanic = errors.New("compiled program panicked")
)

// CompilationError is the reason stored with a Failed cache entry.
type CompilationError struct {
	Hash common.Hash
	Err  error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile %x: %v", e.Hash[:8], e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

func (e *CompilationError) Is(target error) bool { return target == ErrCompilationFailed }
