package core

import (
	"sync"
	"time"
)

type eventHistory struct {
	mu    sync.Mutex
	items []LifecycleRecord
	head  int
	count int
	seq   uint64
}

func newEventHistory(capacity int) *eventHistory {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &eventHistory{items: make([]LifecycleRecord, capacity)}
}

func (h *eventHistory) Add(event LifecycleEvent, thread ThreadID, task TaskID, priority Priority) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	h.items[h.head] = LifecycleRecord{
		Seq:      h.seq,
		Event:    event,
		Thread:   thread,
		Task:     task,
		Priority: priority,
		At:       time.Now(),
	}
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first.
func (h *eventHistory) Recent(limit int) []LifecycleRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]LifecycleRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *eventHistory) Last() (LifecycleRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return LifecycleRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
