package core

import (
	"fmt"
	"sync"
)

// StackHandle identifies an execution stack handed out by a StackAllocator.
// The zero value is no stack.
type StackHandle int32

// NoStack is the absent stack handle.
const NoStack StackHandle = 0

// DefaultStackSize is the nominal per-thread stack size of a StackPool.
const DefaultStackSize = 4096

// StackAllocator hands out thread stacks. Implementations report pool
// exhaustion with ErrOutOfResources.
type StackAllocator interface {
	AllocateStack() (StackHandle, error)
	ReleaseStack(h StackHandle) error
}

// StackPool is a fixed-capacity StackAllocator. It is safe for concurrent use.
type StackPool struct {
	mu        sync.Mutex
	stackSize int
	free      []StackHandle
	inUse     []bool
}

// NewStackPool creates a pool of capacity stacks of stackSize bytes each.
func NewStackPool(capacity, stackSize int) *StackPool {
	if capacity < 0 {
		capacity = 0
	}
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	p := &StackPool{
		stackSize: stackSize,
		free:      make([]StackHandle, 0, capacity),
		inUse:     make([]bool, capacity+1),
	}
	for h := capacity; h >= 1; h-- {
		p.free = append(p.free, StackHandle(h))
	}
	return p
}

// AllocateStack reserves a stack.
func (p *StackPool) AllocateStack() (StackHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return NoStack, fmt.Errorf("stack pool exhausted (%d stacks): %w", len(p.inUse)-1, ErrOutOfResources)
	}
	h := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse[h] = true
	return h, nil
}

// ReleaseStack returns a stack to the pool. Releasing a stack that is not
// in use is an ErrInvalidArgument.
func (p *StackPool) ReleaseStack(h StackHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h <= NoStack || int(h) >= len(p.inUse) || !p.inUse[h] {
		return fmt.Errorf("release stack %d: %w", h, ErrInvalidArgument)
	}
	p.inUse[h] = false
	p.free = append(p.free, h)
	return nil
}

// StackSize returns the nominal size of each stack.
func (p *StackPool) StackSize() int { return p.stackSize }

// Stats returns how many stacks are allocated and the pool capacity.
func (p *StackPool) Stats() (used, capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	capacity = len(p.inUse) - 1
	return capacity - len(p.free), capacity
}
