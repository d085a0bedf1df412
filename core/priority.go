package core

// Priority is a scheduling priority. Larger values are more urgent.
type Priority int

// DefaultPriorityLevels is the number of intrinsic thread levels inside
// one task band used by BandedComposer.
const DefaultPriorityLevels Priority = 8

// PriorityComposer derives a thread's effective priority from its task's
// base priority and the thread's intrinsic priority.
type PriorityComposer interface {
	ComposePriority(task, thread Priority) Priority
}

// ComposeFunc adapts a plain function to PriorityComposer.
type ComposeFunc func(task, thread Priority) Priority

// ComposePriority calls f.
func (f ComposeFunc) ComposePriority(task, thread Priority) Priority {
	return f(task, thread)
}

// BandedComposer places every task in its own band of Levels priorities:
// the task priority selects the band and the thread's intrinsic priority
// selects the level inside it. Intrinsic priorities are clamped to the
// band, so a thread can never outrank a thread of a higher-priority task.
type BandedComposer struct {
	Levels Priority
}

// ComposePriority returns task*Levels + clamp(thread, 0, Levels-1).
func (c BandedComposer) ComposePriority(task, thread Priority) Priority {
	levels := c.Levels
	if levels <= 0 {
		levels = DefaultPriorityLevels
	}
	if task < 0 {
		task = 0
	}
	thread = min(max(thread, 0), levels-1)
	return task*levels + thread
}
