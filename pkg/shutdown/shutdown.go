// Package shutdown runs registered cleanup steps when the process is asked
// to exit.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/phil777/paperwork/pkg/jobs"
	"github.com/phil777/paperwork/pkg/logging"
)

type step struct {
	name string
	fn   func(context.Context) error
}

// Manager handles graceful shutdown
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu    sync.Mutex
	steps []step

	done chan struct{}
	once sync.Once
}

// New creates a shutdown manager. timeout bounds the whole Shutdown run.
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		logger:  logger.WithField("component", "shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a shutdown step. Steps run in reverse registration order.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Trigger starts shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() { close(m.done) })
}

// Done is closed once shutdown was triggered
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until SIGINT, SIGTERM, Trigger or ctx
func (m *Manager) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info("Received signal, shutting down", map[string]interface{}{"signal": sig.String()})
		m.Trigger()
		return nil
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown runs every step, last registered first, and returns the joined
// step errors.
func (m *Manager) Shutdown() error {
	m.Trigger()

	m.mu.Lock()
	steps := m.steps
	m.steps = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		m.logger.Debug("Running shutdown step", map[string]interface{}{"step": s.name})
		if err := s.fn(ctx); err != nil {
			m.logger.Error("Shutdown step failed", map[string]interface{}{"step": s.name, "error": err})
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	m.logger.Info("Graceful shutdown complete")
	return errors.Join(errs...)
}

// StopHTTPServer creates a step for an http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return server.Shutdown
}

// StopScheduler creates a step stopping s. It gives up when ctx expires; the
// scheduler keeps waiting for its active job in the background.
func StopScheduler(s *jobs.Scheduler) func(context.Context) error {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- s.Stop() }()
		select {
		case err := <-errCh:
			if errors.Is(err, jobs.ErrNotRunning) {
				return nil
			}
			return err
		case <-ctx.Done():
			return fmt.Errorf("timeout stopping scheduler %s: %w", s.Name(), ctx.Err())
		}
	}
}

// Close creates a step for anything with a Close method
func Close(c interface{ Close() }) func(context.Context) error {
	return func(context.Context) error {
		c.Close()
		return nil
	}
}
