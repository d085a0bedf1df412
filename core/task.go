package core

// TaskID is a generational handle to a task descriptor. The zero value
// refers to no task.
type TaskID handle

// NoTask is the absent task reference.
const NoTask TaskID = 0

func (id TaskID) String() string { return "task-" + handle(id).String() }

// Task is a task descriptor: a priority domain owning a ring of threads
// anchored at its main thread.
type Task struct {
	id       TaskID
	name     string
	priority Priority
	main     ThreadID
}

func (t *Task) ID() TaskID           { return t.id }
func (t *Task) Name() string         { return t.name }
func (t *Task) Priority() Priority   { return t.priority }
func (t *Task) MainThread() ThreadID { return t.main }

// TaskInfo is a point-in-time copy of a task and its ring membership,
// starting with the main thread.
type TaskInfo struct {
	ID         TaskID
	Name       string
	Priority   Priority
	MainThread ThreadID
	Members    []ThreadID
}

// ThreadSpec describes a thread to create.
type ThreadSpec struct {
	Name     string
	Entry    Entry
	Arg      any
	Priority Priority
}

// TaskSpec describes a task to create together with its main thread.
type TaskSpec struct {
	Name     string
	Priority Priority
	Main     ThreadSpec
}
