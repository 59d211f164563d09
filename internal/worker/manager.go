// Package worker drives active sagas. The monitor polls the checkpoint store
// for non-terminal ramps and feeds them to the executor, which advances each
// one phase at a time. A ramp already being advanced is never queued twice.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ramp/internal/models"
)

// Advancer runs one saga phase. Implemented by the coordinator.
type Advancer interface {
	Advance(ctx context.Context, rampID string) error
}

// Lister enumerates resumable sagas. Implemented by the checkpoint store.
type Lister interface {
	ListActiveRampStates(ctx context.Context) ([]*models.RampState, error)
}

// Manager orchestrates the monitor and executor goroutines.
type Manager struct {
	store        Lister
	coordinator  Advancer
	pollInterval time.Duration
	logger       *zap.Logger

	monitor  *Monitor
	executor *Executor

	// inFlight guards against queueing a ramp that the executor is still
	// working on.
	mu       sync.Mutex
	inFlight map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a worker manager.
func NewManager(store Lister, coordinator Advancer, pollInterval time.Duration, logger *zap.Logger) *Manager {
	logger = logger.Named("worker")
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:        store,
		coordinator:  coordinator,
		pollInterval: pollInterval,
		logger:       logger,
		inFlight:     make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
	m.monitor = NewMonitor(m)
	m.executor = NewExecutor(m)
	return m
}

// Start launches the monitor and executor goroutines.
func (m *Manager) Start() {
	m.logger.Info("Starting worker manager",
		zap.Duration("poll_interval", m.pollInterval))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor.Run(m.ctx)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.executor.Run(m.ctx)
	}()
}

// Shutdown stops the workers and waits up to timeout for them to finish the
// phase in progress.
func (m *Manager) Shutdown(timeout time.Duration) {
	m.logger.Info("Shutting down worker manager")
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		m.logger.Warn("Worker shutdown timed out")
	}
}

// claim marks a ramp as being worked on. Returns false when it already is.
func (m *Manager) claim(rampID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[rampID] {
		return false
	}
	m.inFlight[rampID] = true
	return true
}

// release clears the in-flight mark so the next poll can pick the ramp up
// again.
func (m *Manager) release(rampID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, rampID)
}
