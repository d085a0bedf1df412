package core

import (
	"context"
	"runtime/debug"
)

// cpuContext is the saved execution context of a thread that has been
// dispatched at least once: its goroutine parks on resume while it does not
// hold the CPU.
type cpuContext struct {
	resume chan struct{}
}

// Start starts the dispatcher: a single virtual CPU that repeatedly takes
// the most urgent runnable thread and lets it run until it blocks or exits.
func (k *Kernel) Start(ctx context.Context) {
	k.runningMu.Lock()
	defer k.runningMu.Unlock()

	if k.running || k.isHalted() {
		return
	}

	var dispatchCtx context.Context
	dispatchCtx, k.cancel = context.WithCancel(ctx)
	k.running = true

	k.wg.Add(1)
	go k.dispatchLoop(dispatchCtx)
}

// Stop halts the kernel. Threads blocked in Join return ErrHalted, queued
// and blocked threads are finished with a nil result and the dispatcher
// exits. A halted kernel cannot be restarted.
func (k *Kernel) Stop() {
	// Always halt even if never started
	k.halt()

	k.runningMu.Lock()
	if !k.running {
		k.runningMu.Unlock()
		return
	}
	cancel := k.cancel
	k.runningMu.Unlock()

	if cancel != nil {
		cancel()
	}
	k.wg.Wait()

	k.runningMu.Lock()
	k.running = false
	k.runningMu.Unlock()
}

// IsRunning returns whether the dispatcher is running
func (k *Kernel) IsRunning() bool {
	k.runningMu.RLock()
	defer k.runningMu.RUnlock()
	return k.running
}

// halt closes halted under the kernel lock, so a locked section sees the
// kernel either running or halted throughout.
func (k *Kernel) halt() {
	k.haltOnce.Do(func() {
		k.mu.Lock()
		defer k.mu.Unlock()

		close(k.halted)
		k.retireLocked()
		k.sched.Shutdown()
	})
}

// retireLocked finishes every thread that can no longer get the CPU: queued
// threads leave the run queue and blocked ones stop waiting. Their result
// is nil and exited stays open, since their entry never returned. Pending
// joins are dropped so their tasks can be torn down.
func (k *Kernel) retireLocked() {
	for i := range k.threads.entries {
		e := &k.threads.entries[i]
		if !e.used {
			continue
		}
		th := &e.value
		th.joined = NoThread

		switch th.state {
		case ThreadRunnable:
			k.sched.RemoveThread(th)
		case ThreadWaiting:
		default:
			continue
		}
		th.state = ThreadFinished
		th.slot = Completed(nil)
		th.wait = WaitState{}
		k.history.Add(EventHalted, th.id, th.task, th.sched.Effective)
		k.logger.Debug("thread retired on halt", F("kernel", k.id), F("thread", th.id), F("task", th.task))
	}
}

func (k *Kernel) isHalted() bool {
	select {
	case <-k.halted:
		return true
	default:
		return false
	}
}

func (k *Kernel) dispatchLoop(ctx context.Context) {
	defer k.wg.Done()
	defer k.halt()

	for {
		id, ok := k.sched.Next(ctx.Done())
		if !ok {
			return
		}
		if !k.switchTo(ctx, id) {
			return
		}
	}
}

// switchTo hands the CPU to id and waits until it gives it back. It
// reports false when ctx ends first.
func (k *Kernel) switchTo(ctx context.Context, id ThreadID) bool {
	k.mu.Lock()
	th, ok := k.threads.lookup(handle(id))
	if !ok || th.state != ThreadRunnable {
		k.mu.Unlock()
		return true
	}
	th.state = ThreadRunning
	k.current = id

	cpu, _ := th.context.(*cpuContext)
	if cpu == nil {
		cpu = &cpuContext{resume: make(chan struct{}, 1)}
		th.context = cpu
		arg, _ := th.slot.Arg()
		go k.threadMain(ctx, id, cpu, th.entry, arg)
	}
	k.mu.Unlock()

	cpu.resume <- struct{}{}

	select {
	case <-k.yielded:
	case <-ctx.Done():
		return false
	}

	k.mu.Lock()
	k.current = NoThread
	k.mu.Unlock()
	return true
}

// yield gives the CPU back to the dispatcher.
func (k *Kernel) yield() {
	select {
	case k.yielded <- struct{}{}:
	case <-k.halted:
	}
}

func (k *Kernel) threadMain(ctx context.Context, id ThreadID, cpu *cpuContext, entry Entry, arg any) {
	select {
	case <-cpu.resume:
	case <-k.halted:
		return
	}

	result := k.runEntry(withCurrentThread(ctx, id), id, entry, arg)
	k.exit(id, result)
	k.yield()
}

func (k *Kernel) runEntry(ctx context.Context, id ThreadID, entry Entry, arg any) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			taskName := k.taskNameOf(id)
			k.panicHandler.HandlePanic(ctx, taskName, id, r, debug.Stack())
			k.metrics.RecordThreadPanic(taskName, r)
			k.logger.Error("thread panicked", F("kernel", k.id), F("thread", id), F("task", taskName), F("panic", r))
		}
	}()
	return entry(ctx, arg)
}

func (k *Kernel) taskNameOf(id ThreadID) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads.lookup(handle(id))
	if !ok {
		return ""
	}
	if tk, ok := k.tasks.lookup(handle(th.task)); ok {
		return tk.name
	}
	return ""
}
