package core

import "sync/atomic"

// Scheduler is the scheduler strategy the kernel consumes. The kernel calls
// every method with the kernel lock held, except Next, which the dispatcher
// calls without it.
type Scheduler interface {
	PriorityComposer

	// InstallEffectivePriority makes p the thread's effective priority,
	// reordering it if it is already queued.
	InstallEffectivePriority(t *Thread, p Priority)

	// WakeThread makes t runnable and queues it.
	WakeThread(t *Thread)

	// RemoveThread drops t from the run queue if it is queued.
	RemoveThread(t *Thread)

	// Next blocks until a runnable thread is available or stopCh closes.
	Next(stopCh <-chan struct{}) (ThreadID, bool)

	// Runnable returns the number of queued threads.
	Runnable() int

	// Shutdown drops all queued threads and rejects further wakes.
	Shutdown()
}

// PriorityScheduler is the reference Scheduler: a single run queue ordered
// by effective priority, FIFO among equal priorities.
type PriorityScheduler struct {
	composer PriorityComposer
	queue    *RunQueue
	signal   chan struct{}

	metrics Metrics

	// Lifecycle
	shuttingDown int32 // atomic flag
}

var _ Scheduler = (*PriorityScheduler)(nil)

// NewPriorityScheduler creates a PriorityScheduler. A nil composer means
// BandedComposer with DefaultPriorityLevels; nil metrics means NilMetrics.
func NewPriorityScheduler(composer PriorityComposer, metrics Metrics) *PriorityScheduler {
	if composer == nil {
		composer = BandedComposer{Levels: DefaultPriorityLevels}
	}
	if metrics == nil {
		metrics = &NilMetrics{}
	}
	return &PriorityScheduler{
		composer: composer,
		queue:    NewRunQueue(),
		signal:   make(chan struct{}, 1),
		metrics:  metrics,
	}
}

func (s *PriorityScheduler) ComposePriority(task, thread Priority) Priority {
	return s.composer.ComposePriority(task, thread)
}

func (s *PriorityScheduler) InstallEffectivePriority(t *Thread, p Priority) {
	t.SchedAttr().Effective = p
	s.queue.Update(t.ID(), p)
}

func (s *PriorityScheduler) WakeThread(t *Thread) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		return
	}

	t.SetState(ThreadRunnable)
	t.ClearWait()
	s.queue.Push(t.ID(), t.EffectivePriority())
	s.metrics.RecordRunQueueDepth(s.queue.Len())

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal already pending; the thread is queued either way
	}
}

func (s *PriorityScheduler) RemoveThread(t *Thread) {
	if s.queue.Remove(t.ID()) {
		s.metrics.RecordRunQueueDepth(s.queue.Len())
	}
}

// Next (Called by the dispatcher)
func (s *PriorityScheduler) Next(stopCh <-chan struct{}) (ThreadID, bool) {
	for {
		if id, ok := s.queue.Pop(); ok {
			s.metrics.RecordRunQueueDepth(s.queue.Len())
			return id, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return NoThread, false
		}
	}
}

func (s *PriorityScheduler) Runnable() int { return s.queue.Len() }

func (s *PriorityScheduler) Shutdown() {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.queue.Clear()
}
