package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/danmincu/pulstrate/engine/core"
)

// Entry is the scheduling view of a task: identity plus the key the queue
// orders by. The queue never holds task rows, only entries.
type Entry struct {
	TaskID   core.ID
	GroupID  string
	Priority int
}

// Queue is a priority queue partitioned by group. Each group keeps its own
// heap ordered by (priority desc, enqueue sequence asc); Dequeue selects the
// globally best head across all groups, so equal-priority tasks are FIFO no
// matter which group they sit in. Cancellation tombstones entries in place
// and they are dropped lazily on dequeue.
//
// All methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	groups map[string]*groupHeap
	live   map[core.ID]*item
	seq    uint64
	size   int
	wake   chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		groups: make(map[string]*groupHeap),
		live:   make(map[core.ID]*item),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue adds an entry. Re-enqueueing a task id that is already queued
// replaces the previous entry (the old one is tombstoned), which is how
// priority updates reorder the queue; the task re-enters the FIFO band at
// the back.
func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	if prev, ok := q.live[e.TaskID]; ok {
		prev.cancelled = true
		q.size--
	}
	q.seq++
	it := &item{entry: e, seq: q.seq}
	h := q.groups[e.GroupID]
	if h == nil {
		h = &groupHeap{}
		q.groups[e.GroupID] = h
	}
	heap.Push(h, it)
	q.live[e.TaskID] = it
	q.size++
	q.mu.Unlock()
	q.signal()
}

// TryCancel tombstones the live entry for id so it is skipped on dequeue.
// It reports whether a live entry existed.
func (q *Queue) TryCancel(id core.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.live[id]
	if !ok {
		return false
	}
	it.cancelled = true
	delete(q.live, id)
	q.size--
	return true
}

// Dequeue blocks until an entry is available or ctx is done. Among all live
// entries it returns the one with the highest priority, ties broken by the
// earliest enqueue across every group.
func (q *Queue) Dequeue(ctx context.Context) (Entry, error) {
	for {
		if e, ok := q.tryDequeue(); ok {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len returns the number of live (non-tombstoned) entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// GroupLens returns the live entry count per group. Groups with no live
// entries are omitted.
func (q *Queue) GroupLens() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	lens := make(map[string]int, len(q.groups))
	for _, it := range q.live {
		lens[it.entry.GroupID]++
	}
	return lens
}

func (q *Queue) tryDequeue() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *groupHeap
	for name, h := range q.groups {
		q.discardCancelled(h)
		if h.Len() == 0 {
			delete(q.groups, name)
			continue
		}
		if best == nil || (*h)[0].less((*best)[0]) {
			best = h
		}
	}
	if best == nil {
		return Entry{}, false
	}
	it := heap.Pop(best).(*item)
	delete(q.live, it.entry.TaskID)
	q.size--
	if q.size > 0 {
		// Keep other consumers awake; wake signals coalesce.
		q.signalLocked()
	}
	return it.entry, true
}

func (q *Queue) discardCancelled(h *groupHeap) {
	for h.Len() > 0 && (*h)[0].cancelled {
		heap.Pop(h)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// signalLocked is signal for call sites already holding q.mu; the channel
// send itself never blocks so holding the lock is fine.
func (q *Queue) signalLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------
// Heap
// -----------------------------------------------------------------------------

type item struct {
	entry     Entry
	seq       uint64
	cancelled bool
	index     int
}

// less orders by priority descending, then enqueue sequence ascending.
func (i *item) less(other *item) bool {
	if i.entry.Priority != other.entry.Priority {
		return i.entry.Priority > other.entry.Priority
	}
	return i.seq < other.seq
}

type groupHeap []*item

func (h groupHeap) Len() int { return len(h) }

func (h groupHeap) Less(i, j int) bool { return h[i].less(h[j]) }

func (h groupHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *groupHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *groupHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
