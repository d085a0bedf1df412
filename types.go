package kthread

import "github.com/Swind/go-kthread/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the kthread package for most use cases.

// Kernel owns the thread and task tables
type Kernel = core.Kernel

// KernelConfig configures a Kernel
type KernelConfig = core.KernelConfig

// ThreadID and TaskID are generational handles
type ThreadID = core.ThreadID
type TaskID = core.TaskID

// Priority is a scheduling priority. Larger values are more urgent.
type Priority = core.Priority

// Entry is a thread start routine
type Entry = core.Entry

// ThreadSpec and TaskSpec describe threads and tasks to create
type ThreadSpec = core.ThreadSpec
type TaskSpec = core.TaskSpec

// ThreadInfo and TaskInfo are read-only snapshots
type ThreadInfo = core.ThreadInfo
type TaskInfo = core.TaskInfo

// ThreadState is the lifecycle phase of a thread
type ThreadState = core.ThreadState

// PriorityComposer derives effective priorities
type PriorityComposer = core.PriorityComposer

// BandedComposer is the default PriorityComposer
type BandedComposer = core.BandedComposer

// ComposeFunc adapts a function to PriorityComposer
type ComposeFunc = core.ComposeFunc

// Thread state constants
const (
	ThreadCreated  = core.ThreadCreated
	ThreadRunnable = core.ThreadRunnable
	ThreadRunning  = core.ThreadRunning
	ThreadWaiting  = core.ThreadWaiting
	ThreadFinished = core.ThreadFinished
	ThreadReaped   = core.ThreadReaped
)

// Zero handles
const (
	NoThread = core.NoThread
	NoTask   = core.NoTask
)

// Sentinel errors
var (
	ErrInvalidArgument = core.ErrInvalidArgument
	ErrBusy            = core.ErrBusy
	ErrOutOfResources  = core.ErrOutOfResources
	ErrHalted          = core.ErrHalted
)

// DefaultKernelConfig returns a config with default capacities and handlers
var DefaultKernelConfig = core.DefaultKernelConfig

// CurrentThread retrieves the running kernel thread from context
var CurrentThread = core.CurrentThread

// NewKernel creates a new Kernel.
// This is re-exported for users who want kernels besides the global one.
func NewKernel(config *KernelConfig) *Kernel {
	return core.NewKernel(config)
}
