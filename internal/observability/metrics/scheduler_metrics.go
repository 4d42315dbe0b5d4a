package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonUnknown          = "unknown"
)

const (
	AlertTransitionFired   = "FIRED"
	AlertTransitionExpired = "EXPIRED"
)

// SchedulerMetrics captures evaluation-loop health signals.
type SchedulerMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	batchProcessed   *prometheus.CounterVec
	runLoopLag       prometheus.Observer
	alertTransitions *prometheus.CounterVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "alertd"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	factory := func(c prometheus.Collector) prometheus.Collector {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}

	jobRuns := factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alertd_scheduler_job_runs_total",
		Help:        "Number of scheduler job runs.",
		ConstLabels: constLabels,
	}, []string{"job"})).(*prometheus.CounterVec)

	jobDuration := factory(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "alertd_scheduler_job_duration_seconds",
		Help:        "Scheduler job duration.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabels,
	}, []string{"job"})).(*prometheus.HistogramVec)

	jobTimeouts := factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alertd_scheduler_job_timeouts_total",
		Help:        "Scheduler jobs that hit their soft timeout.",
		ConstLabels: constLabels,
	}, []string{"job"})).(*prometheus.CounterVec)

	jobErrors := factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alertd_scheduler_job_errors_total",
		Help:        "Scheduler job errors by reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})).(*prometheus.CounterVec)

	batchProcessed := factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alertd_scheduler_batch_processed_total",
		Help:        "Alerts processed per job.",
		ConstLabels: constLabels,
	}, []string{"job"})).(*prometheus.CounterVec)

	runLoopLag := factory(prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "alertd_scheduler_run_loop_lag_seconds",
		Help:        "Delay between scheduled and actual run start.",
		Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		ConstLabels: constLabels,
	})).(prometheus.Histogram)

	alertTransitions := factory(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alertd_alert_transitions_total",
		Help:        "Alert status transitions by from/to state.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})).(*prometheus.CounterVec)

	return &SchedulerMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		batchProcessed:   batchProcessed,
		runLoopLag:       runLoopLag,
		alertTransitions: alertTransitions,
	}
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, classifyJobError(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(n))
}

func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil || lag <= 0 {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

func (m *SchedulerMetrics) IncAlertTransition(from, to string) {
	if m == nil {
		return
	}
	m.alertTransitions.WithLabelValues(from, to).Inc()
}

func classifyJobError(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	default:
		return SchedulerJobReasonUnknown
	}
}
