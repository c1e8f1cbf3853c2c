package pools

import "sync"

// BytePool is a multi-tiered byte slice pool. The stream writer takes its
// single in-flight chunk from here, and the HTTP/1.1 transport uses it for
// connection read buffers, so sustained streaming and parsing recycle the
// same few buffers instead of churning the GC.
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// Size tiers matched to the workloads above: parser scratch, read buffers,
// stream chunks.
var defaultSizes = []int{
	512,
	4096,
	32768,
}

// NewBytePool creates a byte pool with the standard size tiers.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers.
// Tiers must be sorted ascending.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size // capture for closure
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a byte slice of exactly the requested length, backed by the
// smallest tier that fits. Requests above the largest tier allocate directly.
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bufPtr := bp.pools[i].Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a byte slice to its tier. Slices that did not come from a tier
// are left to the GC.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}
