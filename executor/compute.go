package executor

import "runtime"

// computePool is the blocking thread pool spec.md §5/§9 mandates for
// CPU-bound work: CDC chunking and content hashing never run inline on
// a caller's goroutine that also drives network/disk I/O for other
// concurrent transfers. A fixed number of long-lived goroutines drain a
// job queue, mirroring the teacher's discipline of keeping the async
// I/O path and the CPU-bound path on distinct pools.
var computePool = newBlockingPool(blockingPoolSize())

func blockingPoolSize() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return n
}

type blockingPool struct {
	jobs chan func()
}

func newBlockingPool(workers int) *blockingPool {
	p := &blockingPool{jobs: make(chan func(), workers*4)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// offloadCompute runs fn on the blocking pool and blocks the caller
// until it completes. Used to dispatch the rolling hash and content
// hashing off whatever goroutine is otherwise handling I/O suspension
// points (spec.md §5 "CDC chunking, content hashing... do not suspend
// and must run on the blocking pool").
func offloadCompute[T any](fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resCh := make(chan result, 1)
	computePool.jobs <- func() {
		v, err := fn()
		resCh <- result{v: v, err: err}
	}
	r := <-resCh
	return r.v, r.err
}
