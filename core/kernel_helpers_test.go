package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func returnArg(ctx context.Context, arg any) any { return arg }

func newTestKernel(t *testing.T, mutate func(*KernelConfig)) *Kernel {
	t.Helper()
	cfg := DefaultKernelConfig()
	cfg.ID = "test-kernel"
	cfg.ThreadCapacity = 16
	cfg.TaskCapacity = 4
	if mutate != nil {
		mutate(cfg)
	}
	k := NewKernel(cfg)
	t.Cleanup(k.Stop)
	return k
}

func mustCreateTask(t *testing.T, k *Kernel, name string, priority Priority, main Entry) (TaskID, ThreadID) {
	t.Helper()
	if main == nil {
		main = returnArg
	}
	task, err := k.CreateTask(TaskSpec{Name: name, Priority: priority, Main: ThreadSpec{Entry: main}})
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", name, err)
	}
	info, ok := k.Task(task)
	if !ok {
		t.Fatalf("Task(%s) not found after create", task)
	}
	return task, info.MainThread
}

func mustCreateThread(t *testing.T, k *Kernel, name string, priority Priority, entry Entry) ThreadID {
	t.Helper()
	if entry == nil {
		entry = returnArg
	}
	id, err := k.CreateThread(ThreadSpec{Name: name, Entry: entry, Arg: name, Priority: priority})
	if err != nil {
		t.Fatalf("CreateThread(%s): %v", name, err)
	}
	return id
}

// assertMembers checks the ring starts at main and holds exactly want.
func assertMembers(t *testing.T, k *Kernel, task TaskID, main ThreadID, others ...ThreadID) {
	t.Helper()
	members, err := k.Members(task)
	if err != nil {
		t.Fatalf("Members(%s): %v", task, err)
	}
	if len(members) == 0 || members[0] != main {
		t.Fatalf("ring = %v, want it to start at main %s", members, main)
	}
	if len(members) != len(others)+1 {
		t.Fatalf("ring = %v, want main plus %v", members, others)
	}
	seen := make(map[ThreadID]bool, len(members))
	for _, id := range members[1:] {
		seen[id] = true
	}
	for _, id := range others {
		if !seen[id] {
			t.Errorf("ring %v is missing %s", members, id)
		}
	}
}

// assertRingLinks checks every next/prev pair of the task's ring agrees.
func assertRingLinks(t *testing.T, k *Kernel, task TaskID) {
	t.Helper()
	k.mu.Lock()
	defer k.mu.Unlock()

	tk, ok := k.tasks.lookup(handle(task))
	if !ok {
		t.Fatalf("task %s not found", task)
	}
	ringWalk(k.threads, handle(tk.main).slot(), func(idx int32) bool {
		th := k.threads.at(idx)
		if k.threads.at(th.link.next).link.prev != idx {
			t.Errorf("slot %d: next.prev mismatch", idx)
		}
		if k.threads.at(th.link.prev).link.next != idx {
			t.Errorf("slot %d: prev.next mismatch", idx)
		}
		return true
	})
}

func waitFinished(t *testing.T, k *Kernel, id ThreadID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := k.WaitFinished(ctx, id); err != nil {
		t.Fatalf("WaitFinished(%s): %v", id, err)
	}
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

type recordingMetrics struct {
	NilMetrics
	mu         sync.Mutex
	membership map[string]int
	panics     int
	joinWaits  int
	lifetimes  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{membership: make(map[string]int)}
}

func (m *recordingMetrics) RecordMembershipChange(op string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.membership[op+"/"+outcome]++
}

func (m *recordingMetrics) RecordThreadLifetime(taskName string, lifetime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifetimes++
}

func (m *recordingMetrics) RecordThreadPanic(taskName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics++
}

func (m *recordingMetrics) RecordJoinWait(wait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinWaits++
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membership[key]
}

func (m *recordingMetrics) joinWaitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joinWaits
}

func (m *recordingMetrics) panicCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panics
}
