package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-kthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	LifetimeBuckets []float64
	JoinWaitBuckets []float64

	// ConstLabels are attached to every collector, e.g. {"kernel": id}.
	ConstLabels prom.Labels
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	membershipTotal       *prom.CounterVec
	threadLifetimeSeconds *prom.HistogramVec
	threadPanicTotal      *prom.CounterVec
	joinWaitSeconds       prom.Histogram
	runQueueDepth         prom.Gauge
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "kthread"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	lifetimeBuckets := opts.LifetimeBuckets
	if len(lifetimeBuckets) == 0 {
		lifetimeBuckets = prom.DefBuckets
	}
	joinBuckets := opts.JoinWaitBuckets
	if len(joinBuckets) == 0 {
		joinBuckets = prom.ExponentialBuckets(0.0001, 4, 10)
	}

	membershipVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "membership_changes_total",
		Help:        "Attach and detach attempts by outcome.",
		ConstLabels: opts.ConstLabels,
	}, []string{"op", "outcome"})
	lifetimeVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace:   namespace,
		Name:        "thread_lifetime_seconds",
		Help:        "Time from thread creation to finish in seconds.",
		Buckets:     lifetimeBuckets,
		ConstLabels: opts.ConstLabels,
	}, []string{"task"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "thread_panic_total",
		Help:        "Total number of thread entry panics.",
		ConstLabels: opts.ConstLabels,
	}, []string{"task"})
	joinWait := prom.NewHistogram(prom.HistogramOpts{
		Namespace:   namespace,
		Name:        "join_wait_seconds",
		Help:        "Time a joiner spent blocked before its result arrived.",
		Buckets:     joinBuckets,
		ConstLabels: opts.ConstLabels,
	})
	queueDepth := prom.NewGauge(prom.GaugeOpts{
		Namespace:   namespace,
		Name:        "run_queue_depth",
		Help:        "Current number of runnable threads.",
		ConstLabels: opts.ConstLabels,
	})

	var err error
	if membershipVec, err = registerCollector(reg, membershipVec); err != nil {
		return nil, err
	}
	if lifetimeVec, err = registerCollector(reg, lifetimeVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if joinWait, err = registerCollector(reg, joinWait); err != nil {
		return nil, err
	}
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		membershipTotal:       membershipVec,
		threadLifetimeSeconds: lifetimeVec,
		threadPanicTotal:      panicVec,
		joinWaitSeconds:       joinWait,
		runQueueDepth:         queueDepth,
	}, nil
}

// RecordMembershipChange counts an attach or detach attempt.
func (m *MetricsExporter) RecordMembershipChange(op string, outcome string) {
	if m == nil {
		return
	}
	m.membershipTotal.WithLabelValues(normalizeLabel(op, "unknown"), normalizeLabel(outcome, "unknown")).Inc()
}

// RecordThreadLifetime records the creation-to-finish time of a thread.
func (m *MetricsExporter) RecordThreadLifetime(taskName string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.threadLifetimeSeconds.WithLabelValues(normalizeLabel(taskName, "none")).Observe(lifetime.Seconds())
}

// RecordThreadPanic records thread panic events.
func (m *MetricsExporter) RecordThreadPanic(taskName string, panicInfo any) {
	if m == nil {
		return
	}
	m.threadPanicTotal.WithLabelValues(normalizeLabel(taskName, "none")).Inc()
}

// RecordJoinWait records how long a joiner was blocked.
func (m *MetricsExporter) RecordJoinWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.joinWaitSeconds.Observe(wait.Seconds())
}

// RecordRunQueueDepth records run queue depth.
func (m *MetricsExporter) RecordRunQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.runQueueDepth.Set(float64(depth))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
