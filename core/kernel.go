package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kernel owns the thread and task tables and mediates every change to
// thread-group membership. Its lock plays the role of "scheduling
// disabled": every mutation of a ring, a thread state or an installed
// priority happens under it, so the dispatcher never observes a
// half-applied change.
type Kernel struct {
	id string

	mu      sync.Mutex
	threads *slab[Thread]
	tasks   *slab[Task]
	current ThreadID

	stacks StackAllocator
	sched  Scheduler

	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler
	history      *eventHistory

	// Dispatcher lifecycle
	yielded  chan struct{}
	halted   chan struct{}
	haltOnce sync.Once

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

// NewKernel creates a kernel. A nil config uses DefaultKernelConfig.
func NewKernel(config *KernelConfig) *Kernel {
	if config == nil {
		config = DefaultKernelConfig()
	}

	k := &Kernel{
		id:           config.ID,
		threads:      newSlab[Thread](orDefault(config.ThreadCapacity, DefaultThreadCapacity)),
		tasks:        newSlab[Task](orDefault(config.TaskCapacity, DefaultTaskCapacity)),
		stacks:       config.Stacks,
		sched:        config.Scheduler,
		logger:       config.Logger,
		metrics:      config.Metrics,
		panicHandler: config.PanicHandler,
		history:      newEventHistory(config.HistoryCapacity),
		yielded:      make(chan struct{}),
		halted:       make(chan struct{}),
	}

	// Use defaults if not provided
	if k.id == "" {
		k.id = "kernel-" + uuid.NewString()[:8]
	}
	if k.logger == nil {
		k.logger = NewNoOpLogger()
	}
	if k.metrics == nil {
		k.metrics = &NilMetrics{}
	}
	if k.panicHandler == nil {
		k.panicHandler = &DefaultPanicHandler{}
	}
	if k.stacks == nil {
		k.stacks = NewStackPool(k.threads.cap(), config.StackSize)
	}
	if k.sched == nil {
		k.sched = NewPriorityScheduler(config.Composer, k.metrics)
	}

	return k
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// ID returns the kernel instance id.
func (k *Kernel) ID() string { return k.id }

// CreateThread allocates a descriptor and a stack for a standalone thread.
// The thread belongs to no task and stays in ThreadCreated until it is
// attached and started.
func (k *Kernel) CreateThread(spec ThreadSpec) (ThreadID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, err := k.createThreadLocked(spec)
	if err != nil {
		return NoThread, err
	}
	k.recordCreatedLocked(th)
	return th.id, nil
}

func (k *Kernel) createThreadLocked(spec ThreadSpec) (*Thread, error) {
	if spec.Entry == nil {
		return nil, fmt.Errorf("create thread %q: nil entry: %w", spec.Name, ErrInvalidArgument)
	}

	stack, err := k.stacks.AllocateStack()
	if err != nil {
		return nil, fmt.Errorf("create thread %q: %w", spec.Name, err)
	}

	idx, h, th, err := k.threads.allocate()
	if err != nil {
		_ = k.stacks.ReleaseStack(stack)
		return nil, fmt.Errorf("create thread %q: thread table full (%d): %w", spec.Name, k.threads.cap(), err)
	}

	*th = Thread{
		id:        ThreadID(h),
		name:      spec.Name,
		state:     ThreadCreated,
		entry:     spec.Entry,
		slot:      Pending(spec.Arg),
		stack:     stack,
		task:      NoTask,
		joined:    NoThread,
		sched:     SchedAttr{Intrinsic: spec.Priority, Effective: spec.Priority},
		createdAt: time.Now(),
		exited:    make(chan struct{}),
		released:  make(chan struct{}),
	}
	ringInit(k.threads, idx)
	return th, nil
}

func (k *Kernel) recordCreatedLocked(th *Thread) {
	k.history.Add(EventCreated, th.id, NoTask, th.sched.Effective)
	k.logger.Debug("thread created",
		F("kernel", k.id), F("thread", th.id), F("name", th.name), F("stack", th.stack))
}

// ReleaseThread frees a thread that was never started and is not in any
// ring, giving back its descriptor and stack. Started threads are released
// through Reap instead.
func (k *Kernel) ReleaseThread(id ThreadID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads.lookup(handle(id))
	if !ok {
		return fmt.Errorf("release %s: unknown thread: %w", id, ErrInvalidArgument)
	}
	if _, ok := k.ownerLocked(th); ok {
		return fmt.Errorf("release %s: still a member of %s: %w", id, th.task, ErrBusy)
	}
	if th.state != ThreadCreated {
		return fmt.Errorf("release %s: thread is %s: %w", id, th.state, ErrBusy)
	}

	k.releaseThreadLocked(th)
	k.history.Add(EventReleased, id, NoTask, 0)
	return nil
}

// CreateTask allocates a task together with its main thread. The main
// thread forms a singleton ring and gets its effective priority composed
// from the task priority before CreateTask returns.
func (k *Kernel) CreateTask(spec TaskSpec) (TaskID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	_, h, tk, err := k.tasks.allocate()
	if err != nil {
		return NoTask, fmt.Errorf("create task %q: task table full (%d): %w", spec.Name, k.tasks.cap(), err)
	}

	mainSpec := spec.Main
	if mainSpec.Name == "" {
		mainSpec.Name = spec.Name + "/main"
	}
	main, err := k.createThreadLocked(mainSpec)
	if err != nil {
		k.tasks.release(h)
		return NoTask, fmt.Errorf("create task %q: %w", spec.Name, err)
	}

	*tk = Task{
		id:       TaskID(h),
		name:     spec.Name,
		priority: spec.Priority,
		main:     main.id,
	}
	main.task = tk.id
	k.recomposeLocked(tk, main)
	k.recordCreatedLocked(main)

	k.history.Add(EventTaskCreated, main.id, tk.id, tk.priority)
	k.logger.Debug("task created",
		F("kernel", k.id), F("task", tk.id), F("name", tk.name),
		F("priority", tk.priority), F("main", main.id))
	return tk.id, nil
}

// DestroyTask releases a task and its main thread. Every other member must
// have been detached or reaped first, and the main thread must not be
// runnable, running or waiting; otherwise DestroyTask fails with ErrBusy.
func (k *Kernel) DestroyTask(id TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	tk, ok := k.tasks.lookup(handle(id))
	if !ok {
		return fmt.Errorf("destroy %s: unknown task: %w", id, ErrInvalidArgument)
	}
	main, ok := k.threads.lookup(handle(tk.main))
	if !ok {
		return fmt.Errorf("destroy %s: task has no main thread: %w", id, ErrInvalidArgument)
	}

	if ringLinked(k.threads, handle(tk.main).slot()) {
		n := ringLen(k.threads, handle(tk.main).slot())
		return fmt.Errorf("destroy %s: %d threads still attached: %w", id, n-1, ErrBusy)
	}
	switch main.state {
	case ThreadRunnable, ThreadRunning, ThreadWaiting:
		return fmt.Errorf("destroy %s: main thread is %s: %w", id, main.state, ErrBusy)
	}
	if main.joined != NoThread {
		return fmt.Errorf("destroy %s: main thread has a pending joiner: %w", id, ErrBusy)
	}

	k.releaseThreadLocked(main)
	k.tasks.release(handle(id))
	k.history.Add(EventTaskDestroyed, NoThread, id, 0)
	k.logger.Debug("task destroyed", F("kernel", k.id), F("task", id))
	return nil
}

// releaseThreadLocked gives back the stack, if still held, and the
// descriptor. Goroutines in WaitFinished on the thread are let go.
func (k *Kernel) releaseThreadLocked(th *Thread) {
	close(th.released)
	if th.stack != NoStack {
		if err := k.stacks.ReleaseStack(th.stack); err != nil {
			k.logger.Error("stack release failed", F("thread", th.id), F("error", err))
		}
		th.stack = NoStack
	}
	k.threads.release(handle(th.id))
}

// =============================================================================
// Queries
// =============================================================================

// Thread returns a snapshot of a thread descriptor.
func (k *Kernel) Thread(id ThreadID) (ThreadInfo, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads.lookup(handle(id))
	if !ok {
		return ThreadInfo{}, false
	}
	return th.info(), true
}

// Task returns a snapshot of a task and its ring membership.
func (k *Kernel) Task(id TaskID) (TaskInfo, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	tk, ok := k.tasks.lookup(handle(id))
	if !ok {
		return TaskInfo{}, false
	}
	return k.taskInfoLocked(tk), true
}

// Tasks returns snapshots of every live task.
func (k *Kernel) Tasks() []TaskInfo {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]TaskInfo, 0, k.tasks.len())
	for i := range k.tasks.entries {
		if e := &k.tasks.entries[i]; e.used {
			out = append(out, k.taskInfoLocked(&e.value))
		}
	}
	return out
}

func (k *Kernel) taskInfoLocked(tk *Task) TaskInfo {
	info := TaskInfo{
		ID:         tk.id,
		Name:       tk.name,
		Priority:   tk.priority,
		MainThread: tk.main,
	}
	if _, ok := k.threads.lookup(handle(tk.main)); ok {
		info.Members = k.membersLocked(tk)
	}
	return info
}

// Stats returns a snapshot of table usage and scheduling state.
func (k *Kernel) Stats() KernelStats {
	k.mu.Lock()
	stats := KernelStats{
		ID:             k.id,
		Threads:        k.threads.len(),
		ThreadCapacity: k.threads.cap(),
		Tasks:          k.tasks.len(),
		TaskCapacity:   k.tasks.cap(),
		Runnable:       k.sched.Runnable(),
		Current:        k.current,
	}
	for i := range k.threads.entries {
		e := &k.threads.entries[i]
		if !e.used {
			continue
		}
		switch e.value.state {
		case ThreadWaiting:
			stats.Waiting++
		case ThreadFinished:
			stats.Finished++
		}
	}
	k.mu.Unlock()

	if pool, ok := k.stacks.(*StackPool); ok {
		stats.StacksInUse, stats.StackCapacity = pool.Stats()
	}
	stats.Running = k.IsRunning()
	return stats
}

// RecentEvents returns up to limit lifecycle records, newest first.
// A limit <= 0 returns the whole retained history.
func (k *Kernel) RecentEvents(limit int) []LifecycleRecord {
	return k.history.Recent(limit)
}

// LastEvent returns the most recent lifecycle record.
func (k *Kernel) LastEvent() (LifecycleRecord, bool) {
	return k.history.Last()
}
