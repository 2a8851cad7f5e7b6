// Package events delivers job notifications onto the caller's execution
// context. Jobs never call observers directly; they hand a closure to a
// Dispatcher, which decides which goroutine runs it.
package events

import (
	"fmt"
	"sync"

	"github.com/phil777/paperwork/pkg/logging"
)

// Dispatcher runs notification callbacks. Dispatch must not block for long:
// it is called from scheduler worker goroutines.
type Dispatcher interface {
	Dispatch(fn func())
}

// Immediate runs every callback inline on the dispatching goroutine, which
// for job events is the scheduler worker.
type Immediate struct{}

// Dispatch calls fn
func (Immediate) Dispatch(fn func()) { fn() }

// Loop is a single-goroutine FIFO event loop, the stand-in for a UI main
// loop. Callbacks run one at a time in the order they were dispatched.
type Loop struct {
	logger *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

// NewLoop starts an event loop goroutine
func NewLoop(logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.Nop()
	}
	l := &Loop{
		logger: logger.WithField("component", "event-loop"),
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Dispatch queues fn. Callbacks dispatched after Close are dropped.
func (l *Loop) Dispatch(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn("Event dispatched after close, dropping")
		return
	}
	l.pending = append(l.pending, fn)
	l.cond.Signal()
}

// Close stops accepting callbacks, runs those already queued, and waits for
// the loop goroutine to exit. It must not be called from a callback.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Signal()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.pending) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.call(fn)
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Event callback panicked", map[string]interface{}{
				"error": fmt.Sprintf("%v", r),
			})
		}
	}()
	fn()
}
