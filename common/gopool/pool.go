package gopool

import (
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
)

const workerExpiry = 10 * time.Second

// FuncPool runs one function over submitted arguments on a bounded set of
// goroutines. Invoke blocks while every worker is busy.
type FuncPool struct {
	pool *ants.PoolWithFunc
}

// NewFuncPool creates a pool of size workers running fn. onPanic receives
// anything fn panics with; the worker survives.
func NewFuncPool(size int, fn func(interface{}), onPanic func(interface{})) (*FuncPool, error) {
	opts := []ants.Option{ants.WithExpiryDuration(workerExpiry)}
	if onPanic != nil {
		opts = append(opts, ants.WithPanicHandler(onPanic))
	}
	pool, err := ants.NewPoolWithFunc(size, fn, opts...)
	if err != nil {
		return nil, err
	}
	return &FuncPool{pool: pool}, nil
}

// Invoke hands arg to a worker.
func (p *FuncPool) Invoke(arg interface{}) error {
	return p.pool.Invoke(arg)
}

// Running returns the number of the currently running goroutines.
func (p *FuncPool) Running() int {
	return p.pool.Running()
}

// Cap returns the capacity of this pool.
func (p *FuncPool) Cap() int {
	return p.pool.Cap()
}

// Release closes the pool. Workers finish their current task.
func (p *FuncPool) Release() {
	p.pool.Release()
}

// Workers returns n clamped to between 1 and the number of CPUs.
func Workers(n int) int {
	return max(1, min(n, runtime.NumCPU()))
}
