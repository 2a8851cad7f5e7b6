package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/phil777/paperwork/pkg/logging"
	"github.com/phil777/paperwork/pkg/models"
)

// Recorder receives scheduler measurements. *metrics.Metrics implements it.
type Recorder interface {
	QueueDepth(scheduler string, n int)
	ActiveJob(scheduler string, active bool)
	JobFinished(scheduler, factory string, state models.JobState, d time.Duration)
	DuplicateRejected(scheduler string)
	BudgetOverrun(scheduler, factory string)
}

type nopRecorder struct{}

func (nopRecorder) QueueDepth(string, int)                                    {}
func (nopRecorder) ActiveJob(string, bool)                                    {}
func (nopRecorder) JobFinished(string, string, models.JobState, time.Duration) {}
func (nopRecorder) DuplicateRejected(string)                                  {}
func (nopRecorder) BudgetOverrun(string, string)                              {}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithTracer sets the tracer used for one span per job execution.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// Scheduler runs jobs one at a time, highest priority first, on a single
// worker goroutine. Each functional area (scanning, recognition) owns its
// own Scheduler so a long recognition never delays a new scan.
type Scheduler struct {
	name     string
	logger   *logging.Logger
	recorder Recorder
	tracer   trace.Tracer

	// mu guards queue, active, running and done. cond is broadcast each
	// time the queue or the active slot changes.
	mu      sync.Mutex
	cond    *sync.Cond
	queue   *jobQueue
	active  Job
	running bool
	done    chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(name string, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:     name,
		logger:   logging.Nop(),
		recorder: nopRecorder{},
		tracer:   noop.NewTracerProvider().Tracer("paperwork/jobs"),
		queue:    newJobQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("scheduler", name)
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Name returns the scheduler name
func (s *Scheduler) Name() string { return s.name }

// Start spawns the worker goroutine. It fails if the scheduler is already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.done != nil {
		return fmt.Errorf("[Scheduler %s] %w", s.name, ErrAlreadyRunning)
	}
	s.logger.Info("Starting")
	s.running = true
	s.done = make(chan struct{})
	go s.run(s.done)
	return nil
}

// Stop discards every queued job, asks a stoppable active job to stop, and
// waits for the worker goroutine to exit. An unstoppable active job runs to
// completion first. Stop must not be called from inside Job.Do.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("[Scheduler %s] %w", s.name, ErrNotRunning)
	}
	s.logger.Info("Stopping")
	s.running = false

	if s.active != nil {
		if s.active.CanStop() {
			s.active.Stop()
		} else {
			s.logger.Info("Waiting for unstoppable job", map[string]interface{}{
				"job": s.active.Handle().String(),
			})
		}
	}
	discarded := s.queue.Drain()
	s.recorder.QueueDepth(s.name, 0)
	s.cond.Broadcast()
	done := s.done
	s.mu.Unlock()

	for _, job := range discarded {
		s.cancelQueued(job)
	}

	<-done

	s.mu.Lock()
	s.done = nil
	s.mu.Unlock()

	s.logger.Info("Stopped", map[string]interface{}{"discarded": len(discarded)})
	return nil
}

// Running reports whether the worker goroutine is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Len returns the number of queued jobs
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Active returns the handle of the job currently running, if any
func (s *Scheduler) Active() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Handle{}, false
	}
	return s.active.Handle(), true
}

// Status is a point-in-time view of a scheduler
type Status struct {
	Name    string   `json:"name"`
	Running bool     `json:"running"`
	Active  string   `json:"active,omitempty"`
	Queued  []string `json:"queued"`
}

// Snapshot returns the scheduler status, queued jobs highest priority first
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Name: s.name, Running: s.running, Queued: []string{}}
	if s.active != nil {
		st.Active = s.active.Handle().String()
	}
	for _, h := range s.queue.Handles() {
		st.Queued = append(st.Queued, h.String())
	}
	return st
}

// Add queues a job and returns immediately. It returns ErrDuplicateJob if
// the same job is already queued or active. Jobs added to a stopped
// scheduler wait until Start.
func (s *Scheduler) Add(job Job) error {
	h := job.Handle()
	s.logger.Debug("Queuing job", map[string]interface{}{
		"job":      h.String(),
		"priority": job.Priority(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Contains(h) || (s.active != nil && s.active.Handle() == h) {
		s.recorder.DuplicateRejected(s.name)
		return fmt.Errorf("[Scheduler %s] %w: %s", s.name, ErrDuplicateJob, h)
	}
	if err := job.jobBase().requeue(); err != nil {
		return fmt.Errorf("[Scheduler %s] %w", s.name, err)
	}
	s.queue.Push(job)
	s.recorder.QueueDepth(s.name, s.queue.Len())
	s.cond.Broadcast()
	return nil
}

// Schedule is an alias for Add
func (s *Scheduler) Schedule(job Job) error {
	return s.Add(job)
}

// CancelMatching removes every queued job for which match returns true and
// returns how many were removed. If the active job matches, it is asked to
// stop (when it can) and CancelMatching waits until it leaves the active
// slot. match is called with the scheduler lock held and must not call
// back into the scheduler. CancelMatching must not be called from inside Job.Do.
func (s *Scheduler) CancelMatching(match func(Job) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.queue.RemoveMatching(match)
	for _, job := range removed {
		s.logger.Debug("Job cancelled", map[string]interface{}{"job": job.Handle().String()})
		s.cancelQueued(job)
	}
	if len(removed) > 0 {
		s.recorder.QueueDepth(s.name, s.queue.Len())
	}

	if s.active != nil && match(s.active) {
		target := s.active.Handle()
		if s.active.CanStop() {
			s.active.Stop()
		} else {
			s.logger.Warn("Tried to stop job, but it can't be stopped", map[string]interface{}{
				"job":   target.String(),
				"error": ErrUnsupportedStop,
			})
		}
		for s.active != nil && s.active.Handle() == target {
			s.cond.Wait()
		}
		s.logger.Debug("Job halted", map[string]interface{}{"job": target.String()})
	}
	return len(removed)
}

// Cancel cancels one job by identity
func (s *Scheduler) Cancel(job Job) int {
	target := job.Handle()
	s.logger.Debug("Canceling job", map[string]interface{}{"job": target.String()})
	return s.CancelMatching(func(j Job) bool { return j.Handle() == target })
}

// CancelAll cancels every job made by factory
func (s *Scheduler) CancelAll(factory *Factory) int {
	s.logger.Debug("Canceling all jobs", map[string]interface{}{"factory": factory.Name()})
	return s.CancelMatching(func(j Job) bool { return j.Handle().Factory == factory })
}

func (s *Scheduler) cancelQueued(job Job) {
	if err := job.jobBase().transition(models.JobStateCanceled); err != nil {
		s.logger.Warn("Unexpected job state", map[string]interface{}{
			"job":   job.Handle().String(),
			"error": err,
		})
	}
	s.recorder.JobFinished(s.name, job.Handle().Factory.Name(), models.JobStateCanceled, 0)
}

func (s *Scheduler) run(done chan struct{}) {
	defer close(done)
	s.logger.Info("Started")

	for {
		s.mu.Lock()
		for s.running && s.queue.Len() == 0 {
			s.cond.Wait()
		}
		if !s.running {
			s.mu.Unlock()
			return
		}
		job := s.queue.Pop()
		s.active = job
		s.recorder.QueueDepth(s.name, s.queue.Len())
		s.recorder.ActiveJob(s.name, true)
		s.mu.Unlock()

		// The lock is not held while the job runs so Add and CancelMatching
		// stay available; only this goroutine writes the active slot.
		s.execute(job)

		s.mu.Lock()
		s.active = nil
		s.recorder.ActiveJob(s.name, false)
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *Scheduler) execute(job Job) {
	h := job.Handle()
	b := job.jobBase()
	log := s.logger.WithField("job", h.String())

	if err := b.transition(models.JobStateRunning); err != nil {
		log.Warn("Unexpected job state", map[string]interface{}{"error": err})
	}

	ctx, span := s.tracer.Start(context.Background(), "job.do", trace.WithAttributes(
		attribute.String("scheduler", s.name),
		attribute.String("factory", h.Factory.Name()),
		attribute.Int64("job.id", int64(h.ID)),
		attribute.Int("job.priority", job.Priority()),
		attribute.Bool("job.can_stop", job.CanStop()),
	))
	defer span.End()

	start := time.Now()
	err := s.invoke(ctx, job)
	elapsed := time.Since(start)

	state := models.JobStateCompleted
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, ErrStopped):
		state = models.JobStateCanceled
		log.Info("Job stopped", map[string]interface{}{"elapsed": elapsed.String()})
	default:
		state = models.JobStateFailed
		var jobErr *JobError
		if !errors.As(err, &jobErr) {
			jobErr = &JobError{Scheduler: s.name, Handle: h, Err: err}
		}
		fields := map[string]interface{}{"error": jobErr}
		if jobErr.Stack != "" {
			fields["stack"] = jobErr.Stack
		}
		log.Warn("Job raised an error", fields)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if !job.CanStop() && elapsed > MaxTimeForUnstoppableJob {
		log.Warn("Unstoppable job exceeded its time budget", map[string]interface{}{
			"elapsed": elapsed.String(),
			"budget":  MaxTimeForUnstoppableJob.String(),
		})
		s.recorder.BudgetOverrun(s.name, h.Factory.Name())
	}

	if err := b.transition(state); err != nil {
		log.Warn("Unexpected job state", map[string]interface{}{"error": err})
	}
	s.recorder.JobFinished(s.name, h.Factory.Name(), state, elapsed)
}

// invoke runs Do and turns a panic into a *JobError.
func (s *Scheduler) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &JobError{
				Scheduler: s.name,
				Handle:    job.Handle(),
				Panic:     true,
				Err:       fmt.Errorf("%v", r),
				Stack:     string(debug.Stack()),
			}
		}
	}()
	return job.Do(ctx)
}
