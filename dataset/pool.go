package dataset

import (
	"sync"
)

var (
	poolLock  sync.Mutex
	framePool = make(map[int]*sync.Pool)
	rowsPool  = make(map[int]*sync.Pool)
)

func pool(pools map[int]*sync.Pool, n int, fill func() interface{}) *sync.Pool {
	poolLock.Lock()
	defer poolLock.Unlock()
	p, ok := pools[n]
	if !ok {
		p = &sync.Pool{New: fill}
		pools[n] = p
	}
	return p
}

// borrowFrames returns a zeroed []float32 of length n.
func borrowFrames(n int) []float32 {
	buf := pool(framePool, n, func() interface{} { return make([]float32, n) }).Get().([]float32)
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// ReturnFrames gives a buffer, typically the backing of a batch, back to the pool.
func ReturnFrames(buf []float32) {
	if len(buf) == 0 {
		return
	}
	n := len(buf)
	pool(framePool, n, func() interface{} { return make([]float32, n) }).Put(buf[:n:n])
}

func borrowRows(m int) [][]float32 {
	return pool(rowsPool, m, func() interface{} { return make([][]float32, m) }).Get().([][]float32)
}

func returnRows(it [][]float32) {
	m := len(it)
	for i := range it {
		it[i] = nil
	}
	pool(rowsPool, m, func() interface{} { return make([][]float32, m) }).Put(it)
}

// rows makes a row view of an m x n plane. Call returnRows when done.
func rows(plane []float32, m, n int) [][]float32 {
	retVal := borrowRows(m)
	for i := range retVal {
		start := i * n
		retVal[i] = plane[start : start+n : start+n]
	}
	return retVal
}
