package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-kthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type kernelStub struct {
	stats core.KernelStats
	tasks []core.TaskInfo
}

func (s kernelStub) Stats() core.KernelStats { return s.stats }
func (s kernelStub) Tasks() []core.TaskInfo  { return s.tasks }

func TestSnapshotPoller_CollectsKernelStats(t *testing.T) {
	taskA := core.TaskID(1)
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("kthread", reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddKernel("kernel-a", kernelStub{
		stats: core.KernelStats{
			Threads:        5,
			ThreadCapacity: 64,
			Tasks:          2,
			StacksInUse:    4,
			Runnable:       3,
			Waiting:        1,
			Running:        true,
		},
		tasks: []core.TaskInfo{
			{ID: taskA, Name: "init", Priority: 5, Members: make([]core.ThreadID, 3)},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		threads := testutil.ToFloat64(poller.threads.WithLabelValues("kernel-a"))
		members := testutil.ToFloat64(poller.taskMembers.WithLabelValues("kernel-a", "init/"+taskA.String()))
		return threads == 5 && members == 3
	})

	if got := testutil.ToFloat64(poller.running.WithLabelValues("kernel-a")); got != 1 {
		t.Fatalf("running gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.runnable.WithLabelValues("kernel-a")); got != 3 {
		t.Fatalf("runnable gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(poller.taskPriority.WithLabelValues("kernel-a", "init/"+taskA.String())); got != 5 {
		t.Fatalf("task priority gauge = %v, want 5", got)
	}
}

// TestSnapshotPoller_RealKernel verifies the poller reads a live kernel and
// drops series for destroyed tasks
func TestSnapshotPoller_RealKernel(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("kthread", reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	k := core.NewKernel(nil)
	defer k.Stop()
	task, err := k.CreateTask(core.TaskSpec{Name: "T", Priority: 2, Main: core.ThreadSpec{Entry: returnNil}})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	poller.AddKernel("k", k)

	poller.collectOnce()
	if got := testutil.ToFloat64(poller.tasks.WithLabelValues("k")); got != 1 {
		t.Fatalf("tasks gauge = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(poller.taskMembers); got != 1 {
		t.Fatalf("task member series = %d, want 1", got)
	}

	if err := k.DestroyTask(task); err != nil {
		t.Fatalf("DestroyTask: %v", err)
	}
	poller.collectOnce()
	if got := testutil.CollectAndCount(poller.taskMembers); got != 0 {
		t.Fatalf("task member series after destroy = %d, want 0", got)
	}

	poller.RemoveKernel("k")
	if got := testutil.CollectAndCount(poller.threads); got != 0 {
		t.Fatalf("thread series after remove = %d, want 0", got)
	}
}

// TestSnapshotPoller_TasksSharingAName verifies tasks with the same name
// keep separate series and the namespace is configurable
func TestSnapshotPoller_TasksSharingAName(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("rtos", reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	k := core.NewKernel(nil)
	defer k.Stop()
	first, err := k.CreateTask(core.TaskSpec{Name: "worker", Priority: 1, Main: core.ThreadSpec{Entry: returnNil}})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	second, err := k.CreateTask(core.TaskSpec{Name: "worker", Priority: 4, Main: core.ThreadSpec{Entry: returnNil}})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	poller.AddKernel("k", k)
	poller.collectOnce()

	if got := testutil.CollectAndCount(poller.taskPriority); got != 2 {
		t.Fatalf("task priority series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(poller.taskPriority.WithLabelValues("k", "worker/"+first.String())); got != 1 {
		t.Errorf("first worker priority = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.taskPriority.WithLabelValues("k", "worker/"+second.String())); got != 4 {
		t.Errorf("second worker priority = %v, want 4", got)
	}
	if got, err := testutil.GatherAndCount(reg, "rtos_task_priority"); err != nil {
		t.Errorf("GatherAndCount: %v", err)
	} else if got != 2 {
		t.Errorf("rtos_task_priority series = %d, want 2", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("kthread", reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
