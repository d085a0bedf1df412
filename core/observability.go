package core

import "time"

// LifecycleEvent names a step in a thread or task lifecycle.
type LifecycleEvent string

const (
	EventTaskCreated   LifecycleEvent = "task_created"
	EventTaskDestroyed LifecycleEvent = "task_destroyed"
	EventCreated       LifecycleEvent = "created"
	EventAttached      LifecycleEvent = "attached"
	EventDetached      LifecycleEvent = "detached"
	EventReprioritized LifecycleEvent = "reprioritized"
	EventStarted       LifecycleEvent = "started"
	EventJoinBlocked   LifecycleEvent = "join_blocked"
	EventFinished      LifecycleEvent = "finished"
	EventReaped        LifecycleEvent = "reaped"
	EventReleased      LifecycleEvent = "released"
	EventHalted        LifecycleEvent = "halted"
)

// LifecycleRecord captures one lifecycle event.
type LifecycleRecord struct {
	Seq      uint64
	Event    LifecycleEvent
	Thread   ThreadID
	Task     TaskID
	Priority Priority
	At       time.Time
}

// KernelStats represents runtime observability state for a kernel.
type KernelStats struct {
	ID             string
	Threads        int
	ThreadCapacity int
	Tasks          int
	TaskCapacity   int
	StacksInUse    int
	StackCapacity  int
	Runnable       int
	Waiting        int
	Finished       int
	Current        ThreadID
	Running        bool
}
