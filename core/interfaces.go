package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling thread panics
// =============================================================================

// PanicHandler is called when a thread's entry panics. The thread still
// finishes, with a nil result.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a thread entry panics.
	//
	// Parameters:
	// - ctx: The context of the panicked thread
	// - taskName: The name of the task the thread belongs to
	// - threadID: The panicked thread
	// - panicInfo: The panic value recovered from the entry
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, taskName string, threadID ThreadID, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, taskName string, threadID ThreadID, panicInfo any, stackTrace []byte) {
	fmt.Printf("[%s @ %s] Panic: %v\nStack trace:\n%s", threadID, taskName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting kernel metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called with the kernel lock held and must be non-blocking and fast.
type Metrics interface {
	// RecordMembershipChange records an attach or detach attempt.
	//
	// Parameters:
	// - op: "attach" or "detach"
	// - outcome: "ok", "invalid_argument", "busy", ...
	RecordMembershipChange(op string, outcome string)

	// RecordThreadLifetime records the time from creation to finish.
	RecordThreadLifetime(taskName string, lifetime time.Duration)

	// RecordThreadPanic records that a thread entry panicked.
	RecordThreadPanic(taskName string, panicInfo any)

	// RecordJoinWait records how long a joiner was blocked before the result arrived.
	RecordJoinWait(wait time.Duration)

	// RecordRunQueueDepth records the current number of runnable threads.
	RecordRunQueueDepth(depth int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordMembershipChange(op string, outcome string)             {}
func (m *NilMetrics) RecordThreadLifetime(taskName string, lifetime time.Duration) {}
func (m *NilMetrics) RecordThreadPanic(taskName string, panicInfo any)             {}
func (m *NilMetrics) RecordJoinWait(wait time.Duration)                            {}
func (m *NilMetrics) RecordRunQueueDepth(depth int)                                {}

// =============================================================================
// KernelConfig: Configuration for Kernel
// =============================================================================

const (
	DefaultThreadCapacity  = 64
	DefaultTaskCapacity    = 16
	DefaultHistoryCapacity = 256
)

// KernelConfig holds configuration options for a Kernel.
// All fields are optional; zero values select the defaults.
type KernelConfig struct {
	// ID names the kernel instance in logs and metrics. Defaults to a random id.
	ID string

	// ThreadCapacity bounds the thread descriptor table.
	ThreadCapacity int

	// TaskCapacity bounds the task descriptor table.
	TaskCapacity int

	// Stacks allocates thread stacks. Defaults to a StackPool of
	// ThreadCapacity stacks of StackSize bytes.
	Stacks    StackAllocator
	StackSize int

	// Composer derives effective priorities when Scheduler is nil.
	// Defaults to BandedComposer.
	Composer PriorityComposer

	// Scheduler is the scheduler strategy. Defaults to a PriorityScheduler.
	Scheduler Scheduler

	// HistoryCapacity bounds the lifecycle event history.
	HistoryCapacity int

	Logger       Logger
	Metrics      Metrics
	PanicHandler PanicHandler
}

// DefaultKernelConfig returns a config with default capacities and handlers.
func DefaultKernelConfig() *KernelConfig {
	return &KernelConfig{
		ThreadCapacity:  DefaultThreadCapacity,
		TaskCapacity:    DefaultTaskCapacity,
		StackSize:       DefaultStackSize,
		Composer:        BandedComposer{Levels: DefaultPriorityLevels},
		HistoryCapacity: DefaultHistoryCapacity,
		Logger:          NewNoOpLogger(),
		Metrics:         &NilMetrics{},
		PanicHandler:    &DefaultPanicHandler{},
	}
}
