// Package jobs serializes long-running, non-reentrant work (scanning, OCR)
// onto one dedicated worker goroutine per Scheduler.
//
// Job code always runs on the scheduler's worker goroutine. Stop is the only
// Job method called from other goroutines, and it must not block.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phil777/paperwork/pkg/models"
)

// MaxTimeForUnstoppableJob is the time budget of a job whose CanStop is
// false. The scheduler relies on it to keep Stop responsive.
const MaxTimeForUnstoppableJob = 500 * time.Millisecond

// Handle identifies a job: the factory that made it plus the id the factory
// assigned. Queue membership and cancellation compare handles, never job values.
type Handle struct {
	Factory *Factory
	ID      uint64
}

func (h Handle) String() string {
	if h.Factory == nil {
		return fmt.Sprintf("?:%d", h.ID)
	}
	return fmt.Sprintf("%s:%d", h.Factory.name, h.ID)
}

// Factory issues job identifiers for a named group of related jobs.
// Factories compare by pointer identity.
type Factory struct {
	name   string
	nextID atomic.Uint64
}

// NewFactory creates a job factory
func NewFactory(name string) *Factory {
	return &Factory{name: name}
}

// Name returns the factory name used for logging and grouping
func (f *Factory) Name() string { return f.name }

// NextID returns the next identifier. Identifiers start at 0 and are never reused.
func (f *Factory) NextID() uint64 {
	return f.nextID.Add(1) - 1
}

// NewBase stamps a new job base with the next identifier of f.
// Concrete job types embed the returned *Base.
func (f *Factory) NewBase(priority int, canStop bool) *Base {
	return &Base{
		handle:   Handle{Factory: f, ID: f.NextID()},
		priority: priority,
		canStop:  canStop,
		state:    models.JobStateQueued,
	}
}

// Job is a unit of schedulable work. Implementations embed *Base.
type Job interface {
	Handle() Handle
	// Priority orders the queue; higher runs first.
	Priority() int
	// CanStop reports whether Stop may be called. Jobs that cannot stop
	// must return from Do within MaxTimeForUnstoppableJob.
	CanStop() bool
	// Do performs the work on the scheduler goroutine. ctx carries tracing
	// and logging values only; cancellation goes through Stop.
	Do(ctx context.Context) error
	// Stop asks a running job to return early. It runs on the caller's
	// goroutine and must not block.
	Stop()

	jobBase() *Base
}

// Base carries identity, priority, the cooperative stop flag and the
// lifecycle state of a job. It is created by Factory.NewBase.
type Base struct {
	handle   Handle
	priority int
	canStop  bool
	stopped  atomic.Bool

	mu    sync.Mutex
	state models.JobState
}

func (b *Base) Handle() Handle { return b.handle }
func (b *Base) Priority() int  { return b.priority }
func (b *Base) CanStop() bool  { return b.canStop }

// Stop sets the stop flag. Jobs that need to interrupt a blocking call
// override Stop and call Base.Stop from it.
func (b *Base) Stop() { b.stopped.Store(true) }

// StopRequested reports whether Stop was called since the job was last
// queued. Stoppable jobs poll it at bounded intervals inside Do.
func (b *Base) StopRequested() bool { return b.stopped.Load() }

// State returns the lifecycle state as last recorded by the scheduler
func (b *Base) State() models.JobState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) jobBase() *Base { return b }

func (b *Base) transition(to models.JobState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := models.ValidateTransition(b.state, to); err != nil {
		return err
	}
	b.state = to
	return nil
}

// requeue prepares a job for submission and clears its stop flag. Only
// fresh jobs and canceled jobs (resumed by their caller) may be queued.
func (b *Base) requeue() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case models.JobStateQueued, models.JobStateCanceled:
		b.state = models.JobStateQueued
		b.stopped.Store(false)
		return nil
	default:
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, b.handle, b.state)
	}
}
