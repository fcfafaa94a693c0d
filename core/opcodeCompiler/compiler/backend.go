package compiler

// Backend turns optimized bytecode into something executable. It is called
// from compiler workers only, possibly concurrently.
type Backend interface {
	Compile(code *AnalyzedBytecode) (Executable, error)
}

// Executable is a compiled program. Execute must not mutate anything but
// ctx and must report the same outcome the interpreter would.
type Executable interface {
	Execute(ctx *ExecutionContext) *Outcome
}

// Releaser is implemented by programs holding resources that should be
// dropped when the cache evicts them.
type Releaser interface {
	Release()
}

// Initializer is implemented by backends that need setup before the first
// compilation.
type Initializer interface {
	Init() error
}
