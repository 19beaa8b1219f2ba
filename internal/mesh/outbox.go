package mesh

import (
	"sync"

	"github.com/tandemlabs/tandem/internal/op"
)

// outboxLimit bounds how many undelivered operations the outbox
// retains. Beyond the bound the oldest entries are discarded; state
// reconciliation recovers anything the ring lost.
const outboxLimit = 256

// outbox parks operations that could not be broadcast, usually because
// no peer was connected at the time. SyncState reflushes it.
type outbox struct {
	mu  sync.Mutex
	ops []op.Operation
}

// push appends an operation, discarding the oldest entry once the
// bound is reached. Reports whether anything was discarded.
func (b *outbox) push(o op.Operation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := false
	if len(b.ops) >= outboxLimit {
		copy(b.ops, b.ops[1:])
		b.ops = b.ops[:len(b.ops)-1]
		dropped = true
	}
	b.ops = append(b.ops, o)
	return dropped
}

// drain removes and returns all parked operations, oldest first.
func (b *outbox) drain() []op.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := b.ops
	b.ops = nil
	return drained
}

// requeue puts drained operations back at the front, preserving order.
// Used when a reflush finds the peer set empty again.
func (b *outbox) requeue(ops []op.Operation) {
	if len(ops) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]op.Operation, 0, len(ops)+len(b.ops))
	merged = append(merged, ops...)
	merged = append(merged, b.ops...)
	if len(merged) > outboxLimit {
		merged = merged[len(merged)-outboxLimit:]
	}
	b.ops = merged
}

// depth reports the number of parked operations.
func (b *outbox) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}
