package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nebulastream/nes-core/types"
)

// Pool is the global buffer manager for a worker: it owns one contiguous
// arena sliced into fixed-size segments and hands out TupleBuffers through a
// buffered channel acting as the free list. Buffers larger than the fixed
// size are served by GetUnpooledBuffer from dedicated allocations that
// bypass the arena entirely (per spec §4.1, unpooled path for oversized
// records).
type Pool struct {
	bufferSize int
	arena      []byte
	free       chan *segment

	totalSegments int
	unpooledCount atomic.Int64
}

// NewPool allocates an arena of numBuffers segments, each bufferSize bytes.
func NewPool(numBuffers, bufferSize int) (*Pool, error) {
	if numBuffers <= 0 || bufferSize <= 0 {
		return nil, fmt.Errorf("memory: numBuffers and bufferSize must be positive")
	}
	p := &Pool{
		bufferSize:    bufferSize,
		arena:         make([]byte, numBuffers*bufferSize),
		free:          make(chan *segment, numBuffers),
		totalSegments: numBuffers,
	}
	for i := 0; i < numBuffers; i++ {
		seg := &segment{
			data: p.arena[i*bufferSize : (i+1)*bufferSize : (i+1)*bufferSize],
			pool: p,
		}
		p.free <- seg
	}
	return p, nil
}

// BufferSize returns the fixed segment size in bytes.
func (p *Pool) BufferSize() int { return p.bufferSize }

// TotalBuffers returns the number of segments in the arena.
func (p *Pool) TotalBuffers() int { return p.totalSegments }

// AvailableBuffers returns the number of segments currently on the free
// list. Racy by nature under concurrent callers; intended for metrics.
func (p *Pool) AvailableBuffers() int { return len(p.free) }

// GetBufferBlocking returns a buffer, blocking until one becomes available
// or ctx is cancelled.
func (p *Pool) GetBufferBlocking(ctx context.Context) (TupleBuffer, error) {
	select {
	case seg := <-p.free:
		return p.newHandle(seg), nil
	case <-ctx.Done():
		return TupleBuffer{}, ctx.Err()
	}
}

// GetBufferWithTimeout is a convenience wrapper around GetBufferBlocking
// with a deadline.
func (p *Pool) GetBufferWithTimeout(timeout time.Duration) (TupleBuffer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	buf, err := p.GetBufferBlocking(ctx)
	if err != nil {
		return TupleBuffer{}, types.ErrCannotAllocateBuffer
	}
	return buf, nil
}

// GetBufferNoWait returns a buffer if one is immediately available, or
// (TupleBuffer{}, false) without blocking.
func (p *Pool) GetBufferNoWait() (TupleBuffer, bool) {
	select {
	case seg := <-p.free:
		return p.newHandle(seg), true
	default:
		return TupleBuffer{}, false
	}
}

// GetUnpooledBuffer allocates a dedicated, non-arena buffer of exactly size
// bytes for payloads that exceed the pool's fixed buffer size. Unpooled
// buffers are freed by the garbage collector, not returned to any free
// list; recycle is a no-op for them.
func (p *Pool) GetUnpooledBuffer(size int) (TupleBuffer, error) {
	if size <= 0 {
		return TupleBuffer{}, fmt.Errorf("memory: unpooled buffer size must be positive")
	}
	seg := &segment{
		data:           make([]byte, size),
		pool:           unpooledRecycler{},
		createdAtNanos: time.Now().UnixNano(),
	}
	seg.refCount.Store(1)
	p.unpooledCount.Add(1)
	return TupleBuffer{seg: seg}, nil
}

// UnpooledAllocations returns the number of buffers served via
// GetUnpooledBuffer since the pool was created, for metrics.
func (p *Pool) UnpooledAllocations() int64 { return p.unpooledCount.Load() }

func (p *Pool) newHandle(seg *segment) TupleBuffer {
	seg.refCount.Store(1)
	seg.numberOfTuples.Store(0)
	seg.origin.Store(0)
	seg.sequenceNumber.Store(0)
	seg.chunkNumber.Store(0)
	seg.lastChunk.Store(false)
	seg.watermark.Store(0)
	seg.createdAtNanos = time.Now().UnixNano()
	seg.children = nil
	return TupleBuffer{seg: seg}
}

// recycle implements recycler: returns seg to the free list. The channel
// was sized to totalSegments so this never blocks as long as a segment is
// recycled at most once between acquisitions.
func (p *Pool) recycle(seg *segment) {
	seg.pool = p
	p.free <- seg
}

// unpooledRecycler is the recycler for GetUnpooledBuffer segments: they are
// not returned anywhere, simply dropped for garbage collection.
type unpooledRecycler struct{}

func (unpooledRecycler) recycle(*segment) {}

// LocalBufferPool is a thread-local cache in front of a shared Pool,
// reducing free-list contention for a single worker thread pulling many
// small buffers in a tight loop (per spec §4.1 "thread-local pools over the
// global free list").
type LocalBufferPool struct {
	parent *Pool

	mu    sync.Mutex
	cache []*segment
	limit int
}

// NewLocalBufferPool creates a local pool backed by parent, caching up to
// limit segments before returning excess directly to the parent.
func NewLocalBufferPool(parent *Pool, limit int) *LocalBufferPool {
	return &LocalBufferPool{parent: parent, limit: limit}
}

// GetBufferBlocking serves from the local cache first, falling back to the
// parent pool.
func (l *LocalBufferPool) GetBufferBlocking(ctx context.Context) (TupleBuffer, error) {
	l.mu.Lock()
	if n := len(l.cache); n > 0 {
		seg := l.cache[n-1]
		l.cache = l.cache[:n-1]
		l.mu.Unlock()
		seg.pool = l
		return l.parent.newHandle(seg), nil
	}
	l.mu.Unlock()
	buf, err := l.parent.GetBufferBlocking(ctx)
	if err != nil {
		return TupleBuffer{}, err
	}
	buf.seg.pool = l
	return buf, nil
}

// GetBufferNoWait serves from the local cache first, falling back to a
// non-blocking attempt against the parent pool. Used by the emit operator,
// which must not stall a worker thread waiting for free memory.
func (l *LocalBufferPool) GetBufferNoWait() (TupleBuffer, bool) {
	l.mu.Lock()
	if n := len(l.cache); n > 0 {
		seg := l.cache[n-1]
		l.cache = l.cache[:n-1]
		l.mu.Unlock()
		seg.pool = l
		return l.parent.newHandle(seg), true
	}
	l.mu.Unlock()
	buf, ok := l.parent.GetBufferNoWait()
	if !ok {
		return TupleBuffer{}, false
	}
	buf.seg.pool = l
	return buf, true
}

// recycle implements recycler: keeps seg locally up to limit, otherwise
// forwards it to the parent pool's free list.
func (l *LocalBufferPool) recycle(seg *segment) {
	l.mu.Lock()
	if len(l.cache) < l.limit {
		l.cache = append(l.cache, seg)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.parent.recycle(seg)
}

// Drain releases every cached segment back to the parent pool, used when a
// worker thread is shutting down.
func (l *LocalBufferPool) Drain() {
	l.mu.Lock()
	cached := l.cache
	l.cache = nil
	l.mu.Unlock()
	for _, seg := range cached {
		l.parent.recycle(seg)
	}
}
