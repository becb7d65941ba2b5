package coordserver

import (
	"fmt"
	"sync"

	"github.com/cuemby/swarmd/pkg/swarmerr"
)

// DefaultQueueCapacity is the default bound on a per-agent outbound queue.
const DefaultQueueCapacity = 1024

// criticalFrameTypes are never dropped to make room for a new message;
// the queue instead drops the oldest non-critical entry.
var criticalFrameTypes = map[FrameType]bool{
	FrameTaskAssignment: true,
	FrameShutdown:       true,
}

type queuedFrame struct {
	frame    *Frame
	critical bool
}

// outboundQueue is a per-agent FIFO that holds outbound frames while the
// worker's connection is closed or not yet open. It is bounded; on
// overflow it evicts the oldest non-critical entry before ever dropping
// or rejecting a task-critical one.
type outboundQueue struct {
	mu       sync.Mutex
	items    []queuedFrame
	capacity int
	wake     chan struct{}
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &outboundQueue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// push enqueues frame. It returns swarmerr.ErrUnreachable only when frame
// is task-critical and the queue is already full of other critical
// messages, i.e. there is nothing safe to evict.
func (q *outboundQueue) push(frame *Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	critical := criticalFrameTypes[frame.Type]

	if len(q.items) >= q.capacity {
		if !q.evictOldestNonCritical() {
			if !critical {
				return nil // silently drop: no room and nothing non-critical to evict
			}
			return fmt.Errorf("enqueue %s: %w", frame.Type, swarmerr.ErrUnreachable)
		}
	}

	q.items = append(q.items, queuedFrame{frame: frame, critical: critical})
	q.notify()
	return nil
}

// evictOldestNonCritical removes the oldest non-critical entry, reporting
// whether one was found.
func (q *outboundQueue) evictOldestNonCritical() bool {
	for i, item := range q.items {
		if !item.critical {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// pop removes and returns the oldest frame, if any.
func (q *outboundQueue) pop() (*Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item.frame, true
}

func (q *outboundQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// len reports the current queue depth.
func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
