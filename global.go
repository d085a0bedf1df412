package kthread

import (
	"context"
	"sync"

	"github.com/Swind/go-kthread/core"
)

// =============================================================================
// Global Kernel Helper (Singleton)
// =============================================================================

var (
	globalKernel *core.Kernel
	globalMu     sync.Mutex
)

// InitGlobalKernel initializes the global kernel with config (nil for
// defaults). It starts the dispatcher immediately.
func InitGlobalKernel(config *KernelConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalKernel != nil {
		return // Already initialized
	}

	if config == nil {
		config = core.DefaultKernelConfig()
		config.ID = "global-kernel"
	}
	globalKernel = core.NewKernel(config)
	globalKernel.Start(context.Background())
}

// GetGlobalKernel returns the global kernel instance.
// It panics if InitGlobalKernel has not been called.
func GetGlobalKernel() *Kernel {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalKernel == nil {
		panic("GlobalKernel not initialized. Call InitGlobalKernel() first.")
	}
	return globalKernel
}

// ShutdownGlobalKernel stops the global kernel.
func ShutdownGlobalKernel() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalKernel != nil {
		globalKernel.Stop()
		globalKernel = nil
	}
}

// Spawn creates a thread in task on the global kernel and starts it.
func Spawn(task TaskID, spec ThreadSpec) (ThreadID, error) {
	return GetGlobalKernel().Spawn(task, spec)
}
