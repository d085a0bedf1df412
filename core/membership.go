package core

import "fmt"

// AttachThread makes thread a member of task's thread group. The thread is
// spliced into the ring next to the main thread, takes task as its owner
// and gets its effective priority composed from the task priority and its
// intrinsic priority. All of this happens before the lock is released, so
// the scheduler never sees the thread linked with a stale priority.
//
// Fails with ErrInvalidArgument if either handle does not resolve, if the
// task has no main thread, or if the thread already belongs to a task or
// has finished. A failed attach changes nothing.
func (k *Kernel) AttachThread(task TaskID, thread ThreadID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, err := k.attachLocked(task, thread)
	k.metrics.RecordMembershipChange("attach", outcomeLabel(err))
	if err != nil {
		k.logger.Warn("attach rejected", F("kernel", k.id), F("task", task), F("thread", thread), F("error", err))
		return err
	}
	k.recordAttachedLocked(th)
	return nil
}

func (k *Kernel) attachLocked(task TaskID, thread ThreadID) (*Thread, error) {
	tk, ok := k.tasks.lookup(handle(task))
	if !ok {
		return nil, fmt.Errorf("attach %s to %s: unknown task: %w", thread, task, ErrInvalidArgument)
	}
	th, ok := k.threads.lookup(handle(thread))
	if !ok {
		return nil, fmt.Errorf("attach %s to %s: unknown thread: %w", thread, task, ErrInvalidArgument)
	}
	if _, ok := k.threads.lookup(handle(tk.main)); !ok {
		return nil, fmt.Errorf("attach %s to %s: task has no main thread: %w", thread, task, ErrInvalidArgument)
	}
	if th.task != NoTask {
		return nil, fmt.Errorf("attach %s to %s: already owned by %s: %w", thread, task, th.task, ErrInvalidArgument)
	}
	if th.state.Terminal() {
		return nil, fmt.Errorf("attach %s to %s: thread is %s: %w", thread, task, th.state, ErrInvalidArgument)
	}

	idx := handle(thread).slot()
	ringInit(k.threads, idx)
	ringInsertAfter(k.threads, idx, handle(tk.main).slot())
	th.task = task
	k.recomposeLocked(tk, th)
	return th, nil
}

func (k *Kernel) recordAttachedLocked(th *Thread) {
	k.history.Add(EventAttached, th.id, th.task, th.sched.Effective)
	k.logger.Debug("thread attached",
		F("kernel", k.id), F("task", th.task), F("thread", th.id), F("effective", th.sched.Effective))
}

// DetachThread removes thread from task's thread group. It does not clear
// the thread's task reference and does not stop the thread; the caller
// reassigns or destroys it afterwards.
//
// Fails with ErrBusy if thread is the task's main thread, and with
// ErrInvalidArgument if a handle does not resolve, the task has no main
// thread, or the thread is not currently in this task's ring. A failed
// detach changes nothing.
func (k *Kernel) DetachThread(task TaskID, thread ThreadID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := k.detachLocked(task, thread)
	k.metrics.RecordMembershipChange("detach", outcomeLabel(err))
	if err != nil {
		k.logger.Warn("detach rejected", F("kernel", k.id), F("task", task), F("thread", thread), F("error", err))
	}
	return err
}

func (k *Kernel) detachLocked(task TaskID, thread ThreadID) error {
	tk, ok := k.tasks.lookup(handle(task))
	if !ok {
		return fmt.Errorf("detach %s from %s: unknown task: %w", thread, task, ErrInvalidArgument)
	}
	th, ok := k.threads.lookup(handle(thread))
	if !ok {
		return fmt.Errorf("detach %s from %s: unknown thread: %w", thread, task, ErrInvalidArgument)
	}
	if _, ok := k.threads.lookup(handle(tk.main)); !ok {
		return fmt.Errorf("detach %s from %s: task has no main thread: %w", thread, task, ErrInvalidArgument)
	}
	if tk.main == thread {
		return fmt.Errorf("detach %s from %s: main thread: %w", thread, task, ErrBusy)
	}

	if !k.memberLocked(tk, th) {
		return fmt.Errorf("detach %s from %s: not a member: %w", thread, task, ErrInvalidArgument)
	}
	ringUnlink(k.threads, handle(thread).slot())

	k.history.Add(EventDetached, thread, task, 0)
	k.logger.Debug("thread detached", F("kernel", k.id), F("task", task), F("thread", thread))
	return nil
}

// recomposeLocked installs the effective priority of a member thread.
func (k *Kernel) recomposeLocked(tk *Task, th *Thread) {
	p := k.sched.ComposePriority(tk.priority, th.sched.Intrinsic)
	k.sched.InstallEffectivePriority(th, p)
}

// Members returns the ring of task, starting with its main thread.
func (k *Kernel) Members(task TaskID) ([]ThreadID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	tk, ok := k.tasks.lookup(handle(task))
	if !ok {
		return nil, fmt.Errorf("members of %s: unknown task: %w", task, ErrInvalidArgument)
	}
	if _, ok := k.threads.lookup(handle(tk.main)); !ok {
		return nil, fmt.Errorf("members of %s: task has no main thread: %w", task, ErrInvalidArgument)
	}
	return k.membersLocked(tk), nil
}

func (k *Kernel) membersLocked(tk *Task) []ThreadID {
	var out []ThreadID
	ringWalk(k.threads, handle(tk.main).slot(), func(idx int32) bool {
		out = append(out, k.threads.at(idx).id)
		return true
	})
	return out
}

// IsMember reports whether thread is reachable from task's main thread.
func (k *Kernel) IsMember(task TaskID, thread ThreadID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	tk, ok := k.tasks.lookup(handle(task))
	if !ok {
		return false
	}
	th, ok := k.threads.lookup(handle(thread))
	if !ok {
		return false
	}
	if _, ok := k.threads.lookup(handle(tk.main)); !ok {
		return false
	}
	return k.memberLocked(tk, th)
}

// SetTaskPriority changes a task's base priority and recomposes the
// effective priority of every member before returning.
func (k *Kernel) SetTaskPriority(task TaskID, p Priority) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	tk, ok := k.tasks.lookup(handle(task))
	if !ok {
		return fmt.Errorf("set priority of %s: unknown task: %w", task, ErrInvalidArgument)
	}
	if _, ok := k.threads.lookup(handle(tk.main)); !ok {
		return fmt.Errorf("set priority of %s: task has no main thread: %w", task, ErrInvalidArgument)
	}

	tk.priority = p
	ringWalk(k.threads, handle(tk.main).slot(), func(idx int32) bool {
		th := k.threads.at(idx)
		k.recomposeLocked(tk, th)
		k.history.Add(EventReprioritized, th.id, task, th.sched.Effective)
		return true
	})
	k.logger.Debug("task reprioritized", F("kernel", k.id), F("task", task), F("priority", p))
	return nil
}

// SetIntrinsicPriority changes a thread's own priority. An attached thread
// gets its effective priority recomposed; a standalone thread's effective
// priority tracks its intrinsic one until it is attached.
func (k *Kernel) SetIntrinsicPriority(thread ThreadID, p Priority) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads.lookup(handle(thread))
	if !ok {
		return fmt.Errorf("set priority of %s: unknown thread: %w", thread, ErrInvalidArgument)
	}

	th.sched.Intrinsic = p
	if tk, ok := k.ownerLocked(th); ok {
		k.recomposeLocked(tk, th)
	} else {
		k.sched.InstallEffectivePriority(th, p)
	}
	k.history.Add(EventReprioritized, thread, th.task, th.sched.Effective)
	return nil
}

// ownerLocked returns the task whose ring currently contains th. A thread
// that was detached still records its former task but has no owner.
func (k *Kernel) ownerLocked(th *Thread) (*Task, bool) {
	tk, ok := k.tasks.lookup(handle(th.task))
	if !ok {
		return nil, false
	}
	if _, ok := k.threads.lookup(handle(tk.main)); !ok {
		return nil, false
	}
	if !k.memberLocked(tk, th) {
		return nil, false
	}
	return tk, true
}

// memberLocked reports whether th is in tk's ring. Attach only takes
// threads without a task reference and unlinking leaves a singleton, so a
// non-main thread is a member exactly when it names tk and is linked.
func (k *Kernel) memberLocked(tk *Task, th *Thread) bool {
	if th.task != tk.id {
		return false
	}
	return th.id == tk.main || ringLinked(k.threads, handle(th.id).slot())
}

// ClearOwner drops the task reference of a detached thread so it can be
// attached to another task. Fails with ErrBusy while the thread is still in
// its task's ring.
func (k *Kernel) ClearOwner(thread ThreadID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads.lookup(handle(thread))
	if !ok {
		return fmt.Errorf("clear owner of %s: unknown thread: %w", thread, ErrInvalidArgument)
	}
	if _, ok := k.ownerLocked(th); ok {
		return fmt.Errorf("clear owner of %s: still a member of %s: %w", thread, th.task, ErrBusy)
	}
	th.task = NoTask
	return nil
}

// Spawn creates a thread, attaches it to task and starts it as one step.
// If any step fails nothing changes: no thread is left behind and no
// event or membership change is recorded.
func (k *Kernel) Spawn(task TaskID, spec ThreadSpec) (ThreadID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.isHalted() {
		return NoThread, fmt.Errorf("spawn %q: %w", spec.Name, ErrHalted)
	}
	th, err := k.createThreadLocked(spec)
	if err != nil {
		return NoThread, err
	}
	if _, err := k.attachLocked(task, th.id); err != nil {
		k.releaseThreadLocked(th)
		return NoThread, fmt.Errorf("spawn %q: %w", spec.Name, err)
	}

	k.recordCreatedLocked(th)
	k.metrics.RecordMembershipChange("attach", outcomeLabel(nil))
	k.recordAttachedLocked(th)
	k.wakeLocked(th)
	return th.id, nil
}
