package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Context Helper
// =============================================================================

type currentThreadKeyType struct{}

var currentThreadKey currentThreadKeyType

// CurrentThread returns the kernel thread whose entry received ctx, or
// NoThread outside of a kernel thread.
func CurrentThread(ctx context.Context) ThreadID {
	if v := ctx.Value(currentThreadKey); v != nil {
		return v.(ThreadID)
	}
	return NoThread
}

func withCurrentThread(ctx context.Context, id ThreadID) context.Context {
	return context.WithValue(ctx, currentThreadKey, id)
}

// =============================================================================
// Start / Exit / Join / Reap
// =============================================================================

// StartThread makes a created thread runnable. Only a thread that is a
// member of a task may start, so its effective priority is always installed
// before the scheduler can pick it.
func (k *Kernel) StartThread(id ThreadID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.startLocked(id)
}

// StartTask makes a task's main thread runnable.
func (k *Kernel) StartTask(task TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	tk, ok := k.tasks.lookup(handle(task))
	if !ok {
		return fmt.Errorf("start %s: unknown task: %w", task, ErrInvalidArgument)
	}
	return k.startLocked(tk.main)
}

func (k *Kernel) startLocked(id ThreadID) error {
	if k.isHalted() {
		return fmt.Errorf("start %s: %w", id, ErrHalted)
	}
	th, ok := k.threads.lookup(handle(id))
	if !ok {
		return fmt.Errorf("start %s: unknown thread: %w", id, ErrInvalidArgument)
	}
	if _, ok := k.ownerLocked(th); !ok {
		return fmt.Errorf("start %s: not a member of any task: %w", id, ErrInvalidArgument)
	}
	if th.state != ThreadCreated {
		return fmt.Errorf("start %s: thread is %s: %w", id, th.state, ErrBusy)
	}

	k.wakeLocked(th)
	return nil
}

func (k *Kernel) wakeLocked(th *Thread) {
	k.sched.WakeThread(th)
	k.history.Add(EventStarted, th.id, th.task, th.sched.Effective)
	k.logger.Debug("thread started", F("kernel", k.id), F("thread", th.id), F("effective", th.sched.Effective))
}

// exit moves a thread whose entry returned to ThreadFinished. A registered
// joiner receives the result and is woken, and the finished thread is
// reaped right away since its result has been collected.
func (k *Kernel) exit(id ThreadID, result any) {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads.lookup(handle(id))
	if !ok {
		return
	}
	th.state = ThreadFinished
	th.slot = Completed(result)
	th.context = nil

	taskName := ""
	if tk, ok := k.tasks.lookup(handle(th.task)); ok {
		taskName = tk.name
	}
	k.metrics.RecordThreadLifetime(taskName, time.Since(th.createdAt))
	k.history.Add(EventFinished, id, th.task, th.sched.Effective)
	k.logger.Debug("thread finished", F("kernel", k.id), F("thread", id), F("task", th.task))
	close(th.exited)

	if th.joined == NoThread {
		return
	}
	joiner, ok := k.threads.lookup(handle(th.joined))
	th.joined = NoThread
	if !ok || joiner.state != ThreadWaiting {
		return
	}

	joiner.slot = Delivered(result)
	k.metrics.RecordJoinWait(time.Since(joiner.wait.Since))
	k.sched.WakeThread(joiner)
	k.reapLocked(th)
}

// Join blocks the calling kernel thread until target finishes and returns
// target's result. ctx must be the context handed to the caller's entry.
// If target has already finished, Join collects its result at once.
// Either way the target is reaped afterwards.
//
// Join fails with ErrInvalidArgument when called outside a running kernel
// thread, for an unknown or reaped target, or for a self-join; and with
// ErrBusy when target already has a joiner. Once blocked, Join only returns
// early if the kernel halts (ErrHalted).
func (k *Kernel) Join(ctx context.Context, target ThreadID) (any, error) {
	self := CurrentThread(ctx)

	k.mu.Lock()
	me, ok := k.threads.lookup(handle(self))
	if !ok || self != k.current {
		k.mu.Unlock()
		return nil, fmt.Errorf("join %s: caller is not the running kernel thread: %w", target, ErrInvalidArgument)
	}
	if target == self {
		k.mu.Unlock()
		return nil, fmt.Errorf("join %s: self-join: %w", target, ErrInvalidArgument)
	}
	th, ok := k.threads.lookup(handle(target))
	if !ok || th.state == ThreadReaped {
		k.mu.Unlock()
		return nil, fmt.Errorf("join %s: unknown or reaped thread: %w", target, ErrInvalidArgument)
	}
	if th.joined != NoThread {
		k.mu.Unlock()
		return nil, fmt.Errorf("join %s: already joined by %s: %w", target, th.joined, ErrBusy)
	}

	if th.state == ThreadFinished {
		result, _ := th.slot.Result()
		me.slot = Delivered(result)
		k.reapLocked(th)
		k.mu.Unlock()
		return result, nil
	}

	th.joined = self
	me.state = ThreadWaiting
	me.wait = WaitState{Reason: WaitJoin, Target: target, Since: time.Now()}
	cpu := me.context.(*cpuContext)
	k.history.Add(EventJoinBlocked, self, me.task, me.sched.Effective)
	k.mu.Unlock()

	k.yield()
	select {
	case <-cpu.resume:
	case <-k.halted:
		return nil, fmt.Errorf("join %s: %w", target, ErrHalted)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	me, ok = k.threads.lookup(handle(self))
	if !ok {
		return nil, fmt.Errorf("join %s: caller vanished: %w", target, ErrInvalidArgument)
	}
	result, _ := me.slot.JoinResult()
	return result, nil
}

// Reap collects the result of a finished thread nobody joined and releases
// it. A non-main thread leaves its ring and gives back its descriptor and
// stack. A main thread gives back its stack and stays as the ring anchor,
// in ThreadReaped, until its task is destroyed.
//
// Fails with ErrBusy while the thread has not finished and with
// ErrInvalidArgument for an unknown or already reaped thread.
func (k *Kernel) Reap(id ThreadID) (any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads.lookup(handle(id))
	if !ok || th.state == ThreadReaped {
		return nil, fmt.Errorf("reap %s: unknown or reaped thread: %w", id, ErrInvalidArgument)
	}
	if th.state != ThreadFinished {
		return nil, fmt.Errorf("reap %s: thread is %s: %w", id, th.state, ErrBusy)
	}

	result, _ := th.slot.Result()
	k.reapLocked(th)
	return result, nil
}

func (k *Kernel) reapLocked(th *Thread) {
	id, task := th.id, th.task

	if tk, ok := k.tasks.lookup(handle(task)); ok && tk.main == id {
		if th.stack != NoStack {
			if err := k.stacks.ReleaseStack(th.stack); err != nil {
				k.logger.Error("stack release failed", F("thread", id), F("error", err))
			}
			th.stack = NoStack
		}
		th.state = ThreadReaped
		k.history.Add(EventReaped, id, task, 0)
		k.logger.Debug("main thread reaped", F("kernel", k.id), F("thread", id), F("task", task))
		return
	}

	if _, ok := k.ownerLocked(th); ok {
		ringUnlink(k.threads, handle(id).slot())
		k.history.Add(EventDetached, id, task, 0)
	}
	k.history.Add(EventReaped, id, task, 0)
	k.logger.Debug("thread reaped", F("kernel", k.id), F("thread", id), F("task", task))
	k.releaseThreadLocked(th)
}

// WaitFinished blocks the calling goroutine, which need not be a kernel
// thread, until id finishes or ctx is done. It does not collect the
// result.
//
// Fails with ErrHalted if the kernel halts before id's entry returns, and
// with ErrInvalidArgument if id is released without ever finishing.
func (k *Kernel) WaitFinished(ctx context.Context, id ThreadID) error {
	k.mu.Lock()
	th, ok := k.threads.lookup(handle(id))
	if !ok {
		k.mu.Unlock()
		return fmt.Errorf("wait %s: unknown thread: %w", id, ErrInvalidArgument)
	}
	exited, released := th.exited, th.released
	k.mu.Unlock()

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-released:
	case <-k.halted:
	}

	select {
	case <-exited:
		return nil
	default:
	}
	if k.isHalted() {
		return fmt.Errorf("wait %s: %w", id, ErrHalted)
	}
	return fmt.Errorf("wait %s: released before finishing: %w", id, ErrInvalidArgument)
}
