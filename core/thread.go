package core

import (
	"context"
	"time"
)

// ThreadID is a generational handle to a thread descriptor. The zero value
// refers to no thread.
type ThreadID handle

// NoThread is the absent thread reference.
const NoThread ThreadID = 0

func (id ThreadID) String() string { return "thread-" + handle(id).String() }

// ThreadState is the lifecycle state of a thread.
type ThreadState int

const (
	// ThreadCreated: descriptor and stack allocated, never made runnable.
	ThreadCreated ThreadState = iota

	// ThreadRunnable: queued on the scheduler, waiting for the CPU.
	ThreadRunnable

	// ThreadRunning: currently holding the CPU.
	ThreadRunning

	// ThreadWaiting: blocked, for example in Join.
	ThreadWaiting

	// ThreadFinished: entry returned; the result sits in the slot until
	// it is collected by a join or a reap.
	ThreadFinished

	// ThreadReaped: stack released. Only a task's main thread is observable
	// in this state, as the ring anchor of its still-existing task.
	ThreadReaped
)

func (s ThreadState) String() string {
	switch s {
	case ThreadCreated:
		return "created"
	case ThreadRunnable:
		return "runnable"
	case ThreadRunning:
		return "running"
	case ThreadWaiting:
		return "waiting"
	case ThreadFinished:
		return "finished"
	case ThreadReaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the thread has finished executing.
func (s ThreadState) Terminal() bool { return s >= ThreadFinished }

// Entry is a thread start routine. ctx carries the current thread and is
// canceled when the kernel stops.
type Entry func(ctx context.Context, arg any) any

// SlotKind tells which interpretation of a thread's value slot is active.
type SlotKind int

const (
	SlotEmpty SlotKind = iota
	// SlotPending holds the argument for the start routine.
	SlotPending
	// SlotCompleted holds the thread's own return value.
	SlotCompleted
	// SlotDelivered holds the return value of a thread this one joined.
	SlotDelivered
)

func (k SlotKind) String() string {
	switch k {
	case SlotPending:
		return "pending"
	case SlotCompleted:
		return "completed"
	case SlotDelivered:
		return "delivered"
	default:
		return "empty"
	}
}

// Slot is the single value slot a thread reuses over its life. The active
// interpretation follows the lifecycle phase and only the matching accessor
// reports ok.
type Slot struct {
	kind  SlotKind
	value any
}

func Pending(arg any) Slot      { return Slot{kind: SlotPending, value: arg} }
func Completed(result any) Slot { return Slot{kind: SlotCompleted, value: result} }
func Delivered(result any) Slot { return Slot{kind: SlotDelivered, value: result} }

func (s Slot) Kind() SlotKind { return s.kind }

// Arg returns the start routine argument.
func (s Slot) Arg() (any, bool) { return s.value, s.kind == SlotPending }

// Result returns the thread's own return value.
func (s Slot) Result() (any, bool) { return s.value, s.kind == SlotCompleted }

// JoinResult returns the value handed over by a joined thread.
func (s Slot) JoinResult() (any, bool) { return s.value, s.kind == SlotDelivered }

// WaitReason says why a thread is in ThreadWaiting.
type WaitReason int

const (
	WaitNone WaitReason = iota
	WaitJoin
)

// WaitState is scheduler-owned blocking bookkeeping. A thread waits on at
// most one thing at a time.
type WaitState struct {
	Reason WaitReason
	Target ThreadID
	Since  time.Time
}

// SchedAttr is scheduler-private per-thread data.
type SchedAttr struct {
	// Intrinsic is the thread's own priority, independent of its task.
	Intrinsic Priority
	// Effective is the installed priority the run queue orders by.
	Effective Priority
}

type ringLink struct {
	next int32
	prev int32
}

// Thread is a thread descriptor. Descriptors live in the kernel's thread
// table; collaborators receive a *Thread only while the kernel lock is held
// and must not retain it.
type Thread struct {
	id    ThreadID
	name  string
	state ThreadState

	// context is the saved execution context, owned by the dispatcher.
	context any

	entry Entry
	slot  Slot
	stack StackHandle

	task   TaskID
	link   ringLink
	joined ThreadID

	wait  WaitState
	sched SchedAttr

	createdAt time.Time
	exited    chan struct{}
	released  chan struct{}
}

func (t *Thread) ID() ThreadID                { return t.id }
func (t *Thread) Name() string                { return t.name }
func (t *Thread) State() ThreadState          { return t.state }
func (t *Thread) Task() TaskID                { return t.task }
func (t *Thread) Slot() Slot                  { return t.slot }
func (t *Thread) Stack() StackHandle          { return t.stack }
func (t *Thread) Joined() ThreadID            { return t.joined }
func (t *Thread) WaitState() WaitState        { return t.wait }
func (t *Thread) EffectivePriority() Priority { return t.sched.Effective }
func (t *Thread) IntrinsicPriority() Priority { return t.sched.Intrinsic }

// SchedAttr exposes the scheduler-private data for in-place updates by a
// Scheduler implementation.
func (t *Thread) SchedAttr() *SchedAttr { return &t.sched }

// SetState is used by Scheduler implementations on wake.
func (t *Thread) SetState(s ThreadState) { t.state = s }

// ClearWait resets the wait bookkeeping when the scheduler wakes a thread.
func (t *Thread) ClearWait() { t.wait = WaitState{} }

// ThreadInfo is a point-in-time copy of a thread descriptor.
type ThreadInfo struct {
	ID        ThreadID
	Name      string
	Task      TaskID
	State     ThreadState
	Intrinsic Priority
	Effective Priority
	Joined    ThreadID
	Slot      SlotKind
	Stack     StackHandle
	Wait      WaitState
	CreatedAt time.Time
}

func (t *Thread) info() ThreadInfo {
	return ThreadInfo{
		ID:        t.id,
		Name:      t.name,
		Task:      t.task,
		State:     t.state,
		Intrinsic: t.sched.Intrinsic,
		Effective: t.sched.Effective,
		Joined:    t.joined,
		Slot:      t.slot.kind,
		Stack:     t.stack,
		Wait:      t.wait,
		CreatedAt: t.createdAt,
	}
}
