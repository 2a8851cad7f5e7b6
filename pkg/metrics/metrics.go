package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/phil777/paperwork/pkg/models"
)

// Metrics holds the Prometheus collectors for job schedulers and the
// parallel evaluator. It satisfies jobs.Recorder and evaluator.Recorder.
type Metrics struct {
	queueDepth     *prometheus.GaugeVec
	activeJobs     *prometheus.GaugeVec
	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	duplicates     *prometheus.CounterVec
	budgetOverruns *prometheus.CounterVec

	evalInFlight *prometheus.GaugeVec
	evalTotal    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
// Passing prometheus.NewRegistry() keeps tests independent of the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "paperwork_scheduler_queue_depth",
				Help: "Number of jobs waiting in the scheduler queue",
			},
			[]string{"scheduler"},
		),
		activeJobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "paperwork_scheduler_active_jobs",
				Help: "1 while the scheduler worker is running a job",
			},
			[]string{"scheduler"},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperwork_scheduler_jobs_total",
				Help: "Jobs that reached a terminal state, by outcome",
			},
			[]string{"scheduler", "factory", "state"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paperwork_scheduler_job_duration_seconds",
				Help:    "Wall time spent in Job.Do",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"scheduler", "factory"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperwork_scheduler_duplicate_jobs_total",
				Help: "Add calls rejected because the job was already queued or active",
			},
			[]string{"scheduler"},
		),
		budgetOverruns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperwork_scheduler_unstoppable_overruns_total",
				Help: "Unstoppable jobs that ran longer than their time budget",
			},
			[]string{"scheduler", "factory"},
		),
		evalInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "paperwork_evaluator_in_flight",
				Help: "Candidate evaluations currently running",
			},
			[]string{"evaluator"},
		),
		evalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperwork_evaluator_candidates_total",
				Help: "Candidate evaluations finished, by result",
			},
			[]string{"evaluator", "result"},
		),
	}

	reg.MustRegister(
		m.queueDepth,
		m.activeJobs,
		m.jobsTotal,
		m.jobDuration,
		m.duplicates,
		m.budgetOverruns,
		m.evalInFlight,
		m.evalTotal,
	)
	return m
}

// QueueDepth records the current queue length of a scheduler
func (m *Metrics) QueueDepth(scheduler string, n int) {
	m.queueDepth.WithLabelValues(scheduler).Set(float64(n))
}

// ActiveJob records whether the scheduler's active slot is occupied
func (m *Metrics) ActiveJob(scheduler string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.activeJobs.WithLabelValues(scheduler).Set(v)
}

// JobFinished records a job reaching a terminal state
func (m *Metrics) JobFinished(scheduler, factory string, state models.JobState, d time.Duration) {
	m.jobsTotal.WithLabelValues(scheduler, factory, string(state)).Inc()
	if d > 0 {
		m.jobDuration.WithLabelValues(scheduler, factory).Observe(d.Seconds())
	}
}

// DuplicateRejected counts a rejected duplicate submission
func (m *Metrics) DuplicateRejected(scheduler string) {
	m.duplicates.WithLabelValues(scheduler).Inc()
}

// BudgetOverrun counts an unstoppable job exceeding its time budget
func (m *Metrics) BudgetOverrun(scheduler, factory string) {
	m.budgetOverruns.WithLabelValues(scheduler, factory).Inc()
}

// InFlight records the number of running candidate evaluations
func (m *Metrics) InFlight(evaluator string, n int) {
	m.evalInFlight.WithLabelValues(evaluator).Set(float64(n))
}

// Evaluated counts a finished candidate evaluation
func (m *Metrics) Evaluated(evaluator string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.evalTotal.WithLabelValues(evaluator, result).Inc()
}
