package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-kthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// KernelSnapshotProvider provides current kernel stats snapshots.
type KernelSnapshotProvider interface {
	Stats() core.KernelStats
	Tasks() []core.TaskInfo
}

var _ KernelSnapshotProvider = (*core.Kernel)(nil)

// SnapshotPoller periodically exports kernel Stats() and Tasks() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	kernelsMu sync.RWMutex
	kernels   map[string]KernelSnapshotProvider

	threads        *prom.GaugeVec
	threadCapacity *prom.GaugeVec
	tasks          *prom.GaugeVec
	stacksInUse    *prom.GaugeVec
	stackCapacity  *prom.GaugeVec
	runnable       *prom.GaugeVec
	waiting        *prom.GaugeVec
	finished       *prom.GaugeVec
	running        *prom.GaugeVec

	taskMembers  *prom.GaugeVec
	taskPriority *prom.GaugeVec

	stateMu sync.Mutex
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors
// under namespace ("kthread" when empty).
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "kthread"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	kernelGauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"kernel"})
	}
	taskGauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"kernel", "task"})
	}

	p := &SnapshotPoller{
		interval:       interval,
		kernels:        make(map[string]KernelSnapshotProvider),
		threads:        kernelGauge("threads", "Live thread descriptors per kernel."),
		threadCapacity: kernelGauge("thread_capacity", "Thread table capacity per kernel."),
		tasks:          kernelGauge("tasks", "Live task descriptors per kernel."),
		stacksInUse:    kernelGauge("stacks_in_use", "Allocated thread stacks per kernel."),
		stackCapacity:  kernelGauge("stack_capacity", "Stack pool capacity per kernel."),
		runnable:       kernelGauge("runnable_threads", "Queued runnable threads per kernel."),
		waiting:        kernelGauge("waiting_threads", "Threads blocked in join per kernel."),
		finished:       kernelGauge("finished_threads", "Finished threads not yet reaped per kernel."),
		running:        kernelGauge("running", "Dispatcher running state (1=running, 0=stopped)."),
		taskMembers:    taskGauge("task_members", "Thread group size per task."),
		taskPriority:   taskGauge("task_priority", "Base priority per task."),
	}

	var err error
	for _, g := range []**prom.GaugeVec{
		&p.threads, &p.threadCapacity, &p.tasks, &p.stacksInUse, &p.stackCapacity,
		&p.runnable, &p.waiting, &p.finished, &p.running,
		&p.taskMembers, &p.taskPriority,
	} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddKernel adds or replaces a kernel snapshot provider by name.
func (p *SnapshotPoller) AddKernel(name string, provider KernelSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "kernel")
	p.kernelsMu.Lock()
	p.kernels[name] = provider
	p.kernelsMu.Unlock()
}

// RemoveKernel stops exporting a kernel and drops its series.
func (p *SnapshotPoller) RemoveKernel(name string) {
	if p == nil {
		return
	}
	p.kernelsMu.Lock()
	delete(p.kernels, name)
	p.kernelsMu.Unlock()

	labels := prom.Labels{"kernel": name}
	for _, g := range []*prom.GaugeVec{
		p.threads, p.threadCapacity, p.tasks, p.stacksInUse, p.stackCapacity,
		p.runnable, p.waiting, p.finished, p.running, p.taskMembers, p.taskPriority,
	} {
		g.DeletePartialMatch(labels)
	}
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.active {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.active = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.active {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.active = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.kernelsMu.RLock()
	defer p.kernelsMu.RUnlock()

	for name, provider := range p.kernels {
		stats := provider.Stats()
		p.threads.WithLabelValues(name).Set(float64(stats.Threads))
		p.threadCapacity.WithLabelValues(name).Set(float64(stats.ThreadCapacity))
		p.tasks.WithLabelValues(name).Set(float64(stats.Tasks))
		p.stacksInUse.WithLabelValues(name).Set(float64(stats.StacksInUse))
		p.stackCapacity.WithLabelValues(name).Set(float64(stats.StackCapacity))
		p.runnable.WithLabelValues(name).Set(float64(stats.Runnable))
		p.waiting.WithLabelValues(name).Set(float64(stats.Waiting))
		p.finished.WithLabelValues(name).Set(float64(stats.Finished))
		if stats.Running {
			p.running.WithLabelValues(name).Set(1)
		} else {
			p.running.WithLabelValues(name).Set(0)
		}

		// Destroyed tasks must not linger as stale series
		kernelLabel := prom.Labels{"kernel": name}
		p.taskMembers.DeletePartialMatch(kernelLabel)
		p.taskPriority.DeletePartialMatch(kernelLabel)
		for _, task := range provider.Tasks() {
			taskLabel := taskLabel(task)
			p.taskMembers.WithLabelValues(name, taskLabel).Set(float64(len(task.Members)))
			p.taskPriority.WithLabelValues(name, taskLabel).Set(float64(task.Priority))
		}
	}
}

// taskLabel keeps tasks that share a name on separate series.
func taskLabel(task core.TaskInfo) string {
	if task.Name == "" {
		return task.ID.String()
	}
	return task.Name + "/" + task.ID.String()
}
