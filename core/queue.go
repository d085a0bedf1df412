package core

import (
	"container/heap"
	"sync"
)

const defaultQueueCap = 16

// =============================================================================
// RunQueue: Max-Heap of runnable threads with Stability (FIFO for same priority)
// =============================================================================

type runItem struct {
	id       ThreadID
	priority Priority
	sequence uint64 // For stability
	index    int    // For heap
}

// runHeap implements heap.Interface
type runHeap []*runItem

func (h runHeap) Len() int { return len(h) }

// Less implements priority logic: High priority first, then Small sequence first (FIFO)
func (h runHeap) Less(i, j int) bool {
	if h[i].priority > h[j].priority {
		return true
	}
	if h[i].priority < h[j].priority {
		return false
	}
	return h[i].sequence < h[j].sequence
}

func (h runHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *runHeap) Push(x any) {
	item := x.(*runItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *runHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// RunQueue orders runnable threads by effective priority. A thread is
// queued at most once; re-pushing a queued thread only updates its priority.
// RunQueue is safe for concurrent use.
type RunQueue struct {
	mu           sync.Mutex
	pq           runHeap
	items        map[ThreadID]*runItem
	nextSequence uint64
}

func NewRunQueue() *RunQueue {
	return &RunQueue{
		pq:    make(runHeap, 0, defaultQueueCap),
		items: make(map[ThreadID]*runItem),
	}
}

// Push queues id with priority p. It reports false if id was already queued,
// in which case its priority is updated in place.
func (q *RunQueue) Push(id ThreadID, p Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.items[id]; ok {
		item.priority = p
		heap.Fix(&q.pq, item.index)
		return false
	}

	item := &runItem{id: id, priority: p, sequence: q.nextSequence}
	q.nextSequence++
	q.items[id] = item
	heap.Push(&q.pq, item)
	return true
}

// Pop removes the most urgent thread.
func (q *RunQueue) Pop() (ThreadID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return NoThread, false
	}
	item := heap.Pop(&q.pq).(*runItem)
	delete(q.items, item.id)
	return item.id, true
}

// Update changes the priority of a queued thread, keeping its FIFO position
// among equals. It reports whether id was queued.
func (q *RunQueue) Update(id ThreadID, p Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return false
	}
	item.priority = p
	heap.Fix(&q.pq, item.index)
	return true
}

// Remove drops a queued thread.
func (q *RunQueue) Remove(id ThreadID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return false
	}
	heap.Remove(&q.pq, item.index)
	delete(q.items, id)
	return true
}

func (q *RunQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

// Clear removes all threads from the queue
func (q *RunQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pq = make(runHeap, 0, defaultQueueCap)
	q.items = make(map[ThreadID]*runItem)
	q.nextSequence = 0
}
