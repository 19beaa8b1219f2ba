package mesh

import (
	"sync"

	"github.com/tandemlabs/tandem/internal/op"
)

// opSlicePool recycles the backing slices that cycle between the
// inbound queue and drained batches. A batch Release puts its slice
// back; the queue picks it up for the next fill.
var opSlicePool = sync.Pool{
	New: func() any {
		s := make([]op.Operation, 0, 64)
		return &s
	},
}

// inboundQueue buffers operations received from peers until the sync
// loop drains them. Read pumps append from any connection goroutine;
// draining swaps the whole slice out so neither side holds the lock
// for longer than a pointer exchange.
type inboundQueue struct {
	mu  sync.Mutex
	ops *[]op.Operation
}

func newInboundQueue() *inboundQueue {
	return &inboundQueue{ops: opSlicePool.Get().(*[]op.Operation)}
}

// enqueue appends one operation.
func (q *inboundQueue) enqueue(o op.Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	*q.ops = append(*q.ops, o)
}

// drain swaps out the queued operations. Returns nil when the queue is
// empty. The caller owns the returned slice until it releases the
// enclosing batch.
func (q *inboundQueue) drain() *[]op.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(*q.ops) == 0 {
		return nil
	}
	drained := q.ops
	q.ops = opSlicePool.Get().(*[]op.Operation)
	return drained
}

// depth reports the number of queued operations.
func (q *inboundQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(*q.ops)
}

// batch hands a drained slice to the coordination runtime. Release
// recycles the buffer; the contract is exactly one Release per batch,
// after which the operations must not be touched.
type batch struct {
	ops *[]op.Operation
}

func (b *batch) Ops() []op.Operation {
	return *b.ops
}

func (b *batch) Release() {
	if b.ops == nil {
		return
	}
	*b.ops = (*b.ops)[:0]
	opSlicePool.Put(b.ops)
	b.ops = nil
}
