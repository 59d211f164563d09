package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor polls the checkpoint store for sagas that need advancing.
type Monitor struct {
	manager *Manager
	logger  *zap.Logger

	readyRamps chan string
}

// NewMonitor creates a new saga monitor.
func NewMonitor(manager *Manager) *Monitor {
	return &Monitor{
		manager:    manager,
		logger:     manager.logger.Named("monitor"),
		readyRamps: make(chan string, 100),
	}
}

// Run starts the monitor polling loop.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Monitor started",
		zap.Duration("poll_interval", m.manager.pollInterval))

	ticker := time.NewTicker(m.manager.pollInterval)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			close(m.readyRamps)
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll enqueues every active ramp that is not already being worked on.
func (m *Monitor) poll(ctx context.Context) {
	states, err := m.manager.store.ListActiveRampStates(ctx)
	if err != nil {
		m.logger.Error("Failed to list active ramps", zap.Error(err))
		return
	}
	if len(states) == 0 {
		return
	}

	m.logger.Debug("Poll cycle", zap.Int("active_ramps", len(states)))

	for _, state := range states {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if state.Phase.Terminal() {
			continue
		}
		if !m.manager.claim(state.ID) {
			continue
		}

		select {
		case m.readyRamps <- state.ID:
		case <-ctx.Done():
			m.manager.release(state.ID)
			return
		default:
			m.manager.release(state.ID)
			m.logger.Warn("Executor channel full, skipping ramp",
				zap.String("ramp_id", state.ID))
		}
	}
}
