package gopool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncPool(t *testing.T) {
	var (
		sum int64
		wg  sync.WaitGroup
	)
	pool, err := NewFuncPool(2, func(arg interface{}) {
		defer wg.Done()
		atomic.AddInt64(&sum, int64(arg.(int)))
	}, nil)
	require.NoError(t, err)
	defer pool.Release()
	assert.Equal(t, 2, pool.Cap())

	for i := 1; i <= 100; i++ {
		wg.Add(1)
		require.NoError(t, pool.Invoke(i))
	}
	wg.Wait()
	assert.Equal(t, int64(5050), atomic.LoadInt64(&sum))
}

func TestFuncPoolPanicHandler(t *testing.T) {
	recovered := make(chan interface{}, 1)
	pool, err := NewFuncPool(1, func(arg interface{}) { panic(arg) }, func(p interface{}) { recovered <- p })
	require.NoError(t, err)
	defer pool.Release()

	require.NoError(t, pool.Invoke("boom"))
	assert.Equal(t, "boom", <-recovered)
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 1, Workers(0))
	assert.Equal(t, 1, Workers(-3))
	assert.Equal(t, 1, Workers(1))
	assert.Equal(t, min(2, runtime.NumCPU()), Workers(2))
	assert.Equal(t, runtime.NumCPU(), Workers(1<<20))
}
