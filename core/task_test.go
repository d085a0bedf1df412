package core

import (
	"context"
	"testing"
)

// TestTaskID_String verifies zero and live TaskID rendering
// Given: NoTask and the id of a created task
// When: String is called
// Then: NoTask renders as none and a live id carries its slot and generation
func TestTaskID_String(t *testing.T) {
	// Act and Assert
	if got := NoTask.String(); got != "task-none" {
		t.Fatalf("NoTask.String() = %q, want task-none", got)
	}

	// Arrange
	k := newTestKernel(t, nil)
	id, _ := mustCreateTask(t, k, "T", 1, nil)

	// Assert
	if id == NoTask {
		t.Fatal("created task has zero id")
	}
	if got := id.String(); got != "task-0.1" {
		t.Fatalf("id.String() = %q, want task-0.1", got)
	}
}

// TestCurrentThread verifies extracting the running thread from context
// Given: A plain context and a context annotated with a thread id
// When: CurrentThread is called
// Then: It returns NoThread for the plain context and the stored id otherwise
func TestCurrentThread(t *testing.T) {
	// Arrange, Act and Assert - plain context
	if got := CurrentThread(context.Background()); got != NoThread {
		t.Fatalf("CurrentThread(background) = %s, want none", got)
	}

	// Arrange
	id := ThreadID(makeHandle(3, 2))
	ctx := withCurrentThread(context.Background(), id)

	// Act and Assert
	if got := CurrentThread(ctx); got != id {
		t.Fatalf("CurrentThread(ctx) = %s, want %s", got, id)
	}
}

// TestCurrentThread_InsideEntry verifies a thread entry sees its own id
func TestCurrentThread_InsideEntry(t *testing.T) {
	k := newTestKernel(t, nil)
	seen := make(chan ThreadID, 1)
	task, main := createTaskWithMain(t, k, "T", 1, 0, func(ctx context.Context, arg any) any {
		seen <- CurrentThread(ctx)
		return nil
	})
	k.StartTask(task)
	k.Start(context.Background())
	waitFinished(t, k, main)

	if got := <-seen; got != main {
		t.Errorf("CurrentThread inside entry = %s, want %s", got, main)
	}
}
