package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewKernel_Defaults(t *testing.T) {
	k := NewKernel(nil)
	defer k.Stop()

	if !strings.HasPrefix(k.ID(), "kernel-") {
		t.Errorf("ID = %q, want kernel- prefix", k.ID())
	}
	stats := k.Stats()
	if stats.ThreadCapacity != DefaultThreadCapacity || stats.TaskCapacity != DefaultTaskCapacity {
		t.Errorf("capacities = %d/%d, want %d/%d",
			stats.ThreadCapacity, stats.TaskCapacity, DefaultThreadCapacity, DefaultTaskCapacity)
	}
	if stats.StackCapacity != DefaultThreadCapacity {
		t.Errorf("stack capacity = %d, want %d", stats.StackCapacity, DefaultThreadCapacity)
	}
}

func TestKernel_CreateThreadRejectsNilEntry(t *testing.T) {
	k := newTestKernel(t, nil)
	if _, err := k.CreateThread(ThreadSpec{Name: "x"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if stats := k.Stats(); stats.Threads != 0 || stats.StacksInUse != 0 {
		t.Errorf("leaked resources: %+v", stats)
	}
}

func TestKernel_CreateThreadInitialState(t *testing.T) {
	k := newTestKernel(t, nil)
	id := mustCreateThread(t, k, "t1", 3, nil)

	info, ok := k.Thread(id)
	if !ok {
		t.Fatal("thread not found")
	}
	if info.State != ThreadCreated {
		t.Errorf("state = %s, want created", info.State)
	}
	if info.Task != NoTask {
		t.Errorf("task = %s, want none", info.Task)
	}
	if info.Slot != SlotPending {
		t.Errorf("slot = %s, want pending", info.Slot)
	}
	if info.Stack == NoStack {
		t.Error("no stack allocated")
	}
	if info.Joined != NoThread {
		t.Errorf("joined = %s, want none", info.Joined)
	}
}

// TestKernel_ThreadTableExhaustion verifies a full thread table fails with
// ErrOutOfResources and gives back the stack it had taken
func TestKernel_ThreadTableExhaustion(t *testing.T) {
	k := newTestKernel(t, func(c *KernelConfig) {
		c.ThreadCapacity = 2
		c.Stacks = NewStackPool(8, 0)
	})

	mustCreateThread(t, k, "a", 0, nil)
	mustCreateThread(t, k, "b", 0, nil)
	_, err := k.CreateThread(ThreadSpec{Name: "c", Entry: returnArg})
	if !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("err = %v, want ErrOutOfResources", err)
	}

	stats := k.Stats()
	if stats.Threads != 2 || stats.StacksInUse != 2 {
		t.Errorf("threads/stacks = %d/%d, want 2/2", stats.Threads, stats.StacksInUse)
	}
}

func TestKernel_StackExhaustion(t *testing.T) {
	k := newTestKernel(t, func(c *KernelConfig) { c.Stacks = NewStackPool(1, 0) })

	mustCreateThread(t, k, "a", 0, nil)
	if _, err := k.CreateThread(ThreadSpec{Name: "b", Entry: returnArg}); !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("err = %v, want ErrOutOfResources", err)
	}
	if stats := k.Stats(); stats.Threads != 1 {
		t.Errorf("threads = %d, want 1", stats.Threads)
	}
}

// TestKernel_CreateTaskRollsBack verifies a task whose main thread cannot be
// allocated leaves nothing behind
func TestKernel_CreateTaskRollsBack(t *testing.T) {
	k := newTestKernel(t, func(c *KernelConfig) { c.Stacks = NewStackPool(1, 0) })

	mustCreateTask(t, k, "first", 1, nil)
	_, err := k.CreateTask(TaskSpec{Name: "second", Main: ThreadSpec{Entry: returnArg}})
	if !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("err = %v, want ErrOutOfResources", err)
	}
	if got := len(k.Tasks()); got != 1 {
		t.Errorf("tasks = %d, want 1", got)
	}
}

func TestKernel_TaskTableExhaustion(t *testing.T) {
	k := newTestKernel(t, func(c *KernelConfig) { c.TaskCapacity = 1 })

	mustCreateTask(t, k, "first", 1, nil)
	_, err := k.CreateTask(TaskSpec{Name: "second", Main: ThreadSpec{Entry: returnArg}})
	if !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("err = %v, want ErrOutOfResources", err)
	}
	if stats := k.Stats(); stats.Threads != 1 {
		t.Errorf("threads = %d, want 1", stats.Threads)
	}
}

// TestKernel_ReleasedHandleNeverResolves verifies a released thread's id
// stays dead after its slot is reused
func TestKernel_ReleasedHandleNeverResolves(t *testing.T) {
	k := newTestKernel(t, func(c *KernelConfig) { c.ThreadCapacity = 1 })

	old := mustCreateThread(t, k, "old", 0, nil)
	if err := k.ReleaseThread(old); err != nil {
		t.Fatalf("ReleaseThread: %v", err)
	}
	fresh := mustCreateThread(t, k, "fresh", 0, nil)

	if old == fresh {
		t.Fatal("reused slot produced the same id")
	}
	if _, ok := k.Thread(old); ok {
		t.Error("stale id resolved")
	}
	if info, ok := k.Thread(fresh); !ok || info.Name != "fresh" {
		t.Errorf("fresh thread = %+v, %v", info, ok)
	}
}

func TestKernel_ReleaseThreadRules(t *testing.T) {
	k := newTestKernel(t, nil)
	task, _ := mustCreateTask(t, k, "T", 1, nil)
	t1 := mustCreateThread(t, k, "t1", 0, nil)
	k.AttachThread(task, t1)

	if err := k.ReleaseThread(t1); !errors.Is(err, ErrBusy) {
		t.Errorf("release member: err = %v, want ErrBusy", err)
	}
	k.DetachThread(task, t1)
	if err := k.ReleaseThread(t1); err != nil {
		t.Errorf("release detached: %v", err)
	}
	if err := k.ReleaseThread(t1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("release twice: err = %v, want ErrInvalidArgument", err)
	}
}

// TestKernel_DestroyTask verifies the conditions under which a task may be
// destroyed
// Main test items:
// 1. Attached threads keep the task alive
// 2. A runnable main thread keeps the task alive
// 3. A reaped main thread stays as the anchor until the task is destroyed
func TestKernel_DestroyTask(t *testing.T) {
	k := newTestKernel(t, nil)
	task, main := mustCreateTask(t, k, "T", 1, nil)
	t1 := mustCreateThread(t, k, "t1", 0, nil)
	k.AttachThread(task, t1)

	if err := k.DestroyTask(task); !errors.Is(err, ErrBusy) {
		t.Fatalf("destroy with members: err = %v, want ErrBusy", err)
	}
	k.DetachThread(task, t1)

	k.StartTask(task)
	if err := k.DestroyTask(task); !errors.Is(err, ErrBusy) {
		t.Fatalf("destroy with runnable main: err = %v, want ErrBusy", err)
	}

	k.Start(context.Background())
	waitFinished(t, k, main)
	result, err := k.Reap(main)
	if err != nil {
		t.Fatalf("Reap(main): %v", err)
	}
	if result != nil {
		t.Errorf("main result = %v, want nil", result)
	}

	info, ok := k.Thread(main)
	if !ok || info.State != ThreadReaped || info.Stack != NoStack {
		t.Fatalf("reaped main = %+v, %v; want reaped anchor without stack", info, ok)
	}
	assertMembers(t, k, task, main)

	if err := k.DestroyTask(task); err != nil {
		t.Fatalf("DestroyTask: %v", err)
	}
	if _, ok := k.Task(task); ok {
		t.Error("task still resolves after destroy")
	}
	if _, ok := k.Thread(main); ok {
		t.Error("main thread still resolves after destroy")
	}
	if err := k.DestroyTask(task); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("destroy twice: err = %v, want ErrInvalidArgument", err)
	}

	stats := k.Stats()
	// only the detached t1 remains
	if stats.Threads != 1 || stats.StacksInUse != 1 || stats.Tasks != 0 {
		t.Errorf("stats after destroy = %+v", stats)
	}
}

func TestKernel_Stats(t *testing.T) {
	k := newTestKernel(t, nil)
	task, _ := mustCreateTask(t, k, "T", 1, nil)
	t1 := mustCreateThread(t, k, "t1", 0, nil)
	t2 := mustCreateThread(t, k, "t2", 0, nil)
	attachAndStart(t, k, task, t1, t2)

	stats := k.Stats()
	if stats.ID != "test-kernel" {
		t.Errorf("ID = %q", stats.ID)
	}
	if stats.Threads != 3 || stats.Tasks != 1 || stats.StacksInUse != 3 {
		t.Errorf("usage = %+v", stats)
	}
	if stats.Runnable != 2 {
		t.Errorf("runnable = %d, want 2", stats.Runnable)
	}
	if stats.Running {
		t.Error("running before Start")
	}

	k.Start(context.Background())
	waitFinished(t, k, t1)
	waitFinished(t, k, t2)
	assertEventually(t, time.Second, func() bool {
		s := k.Stats()
		return s.Finished == 2 && s.Runnable == 0 && s.Running
	})
}

func TestKernel_TasksSnapshot(t *testing.T) {
	k := newTestKernel(t, nil)
	a, mainA := mustCreateTask(t, k, "A", 1, nil)
	mustCreateTask(t, k, "B", 2, nil)
	t1 := mustCreateThread(t, k, "t1", 0, nil)
	k.AttachThread(a, t1)

	tasks := k.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	for _, info := range tasks {
		if info.ID != a {
			continue
		}
		if info.Name != "A" || info.MainThread != mainA || len(info.Members) != 2 {
			t.Errorf("task A = %+v", info)
		}
	}
}

func TestKernel_LifecycleHistory(t *testing.T) {
	k := newTestKernel(t, nil)
	task, _ := mustCreateTask(t, k, "T", 1, nil)
	t1 := mustCreateThread(t, k, "t1", 0, nil)
	k.AttachThread(task, t1)
	k.DetachThread(task, t1)

	events := k.RecentEvents(3)
	want := []LifecycleEvent{EventDetached, EventAttached, EventCreated}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ev := range want {
		if events[i].Event != ev {
			t.Errorf("events[%d] = %s, want %s", i, events[i].Event, ev)
		}
	}
	if events[0].Seq <= events[1].Seq {
		t.Errorf("sequence not increasing: %d then %d", events[1].Seq, events[0].Seq)
	}
}

func TestKernel_StartStopIdempotent(t *testing.T) {
	k := newTestKernel(t, nil)
	k.Start(context.Background())
	k.Start(context.Background())
	if !k.IsRunning() {
		t.Fatal("not running after Start")
	}
	k.Stop()
	k.Stop()
	if k.IsRunning() {
		t.Fatal("running after Stop")
	}
	k.Start(context.Background())
	if k.IsRunning() {
		t.Error("halted kernel restarted")
	}
}
