// Package kthread provides the thread and task lifecycle core of a small
// priority-scheduled kernel, modeled in Go.
//
// Threads are bound into tasks. Every task owns a thread group: a ring of
// threads anchored at the task's main thread. Attaching a thread to a task
// composes the thread's effective scheduling priority from the task's base
// priority and the thread's intrinsic priority, and installs it before the
// scheduler can observe the new member. Threads run one at a time on a
// single virtual CPU, highest effective priority first, and hand results
// back to a joining thread when they exit.
//
// # Quick Start
//
// Initialize the global kernel at application startup:
//
//	kthread.InitGlobalKernel(nil) // default capacities
//	defer kthread.ShutdownGlobalKernel()
//
// Create a task and spawn threads into it:
//
//	k := kthread.GetGlobalKernel()
//	task, _ := k.CreateTask(kthread.TaskSpec{
//		Name:     "init",
//		Priority: 2,
//		Main:     kthread.ThreadSpec{Entry: mainEntry},
//	})
//	k.StartTask(task)
//
// # Key Concepts
//
// Task: A scheduling class with a base priority and a main thread. The main
// thread can never be detached while the task lives.
//
// Thread: A unit of execution with an entry function, an intrinsic priority
// and a single value slot that holds its argument, then its result, then
// the result of a thread it joined.
//
// PriorityComposer: Derives effective priority from (task, thread)
// priorities. The default BandedComposer gives every task its own band.
//
// # Thread Safety
//
// Every Kernel method is safe for concurrent use. Membership changes,
// priority recomposition, exit and join registration are each applied
// atomically with respect to the dispatcher.
//
// # Example
//
//	import (
//		"context"
//		kthread "github.com/Swind/go-kthread"
//	)
//
//	func main() {
//		k := kthread.NewKernel(nil)
//		defer k.Stop()
//
//		var child kthread.ThreadID
//		task, _ := k.CreateTask(kthread.TaskSpec{
//			Name:     "app",
//			Priority: 1,
//			Main: kthread.ThreadSpec{Priority: 7, Entry: func(ctx context.Context, arg any) any {
//				result, _ := k.Join(ctx, child)
//				return result
//			}},
//		})
//		child, _ = k.Spawn(task, kthread.ThreadSpec{Entry: work})
//		k.StartTask(task)
//		k.Start(context.Background())
//	}
package kthread
