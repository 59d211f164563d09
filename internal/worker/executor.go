package worker

import (
	"context"

	"go.uber.org/zap"

	"ramp/internal/ramperr"
)

// Executor advances queued sagas one phase at a time.
type Executor struct {
	manager *Manager
	logger  *zap.Logger
}

// NewExecutor creates a new saga executor.
func NewExecutor(manager *Manager) *Executor {
	return &Executor{
		manager: manager,
		logger:  manager.logger.Named("executor"),
	}
}

// Run starts the executor loop.
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("Executor started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Executor stopping")
			return
		case rampID, ok := <-e.manager.monitor.readyRamps:
			if !ok {
				e.logger.Info("Ramp channel closed, executor stopping")
				return
			}
			e.handleRamp(ctx, rampID)
		}
	}
}

// handleRamp advances one saga by one phase. The coordinator owns the error
// taxonomy: fatal errors already marked the state failed, transient and
// timeout errors left the phase in place for the next poll cycle.
func (e *Executor) handleRamp(ctx context.Context, rampID string) {
	defer e.manager.release(rampID)

	err := e.manager.coordinator.Advance(ctx, rampID)
	if err == nil {
		return
	}

	switch ramperr.ClassOf(err) {
	case ramperr.ClassTransient, ramperr.ClassTimeout:
		e.logger.Warn("Phase will be retried next cycle",
			zap.String("ramp_id", rampID),
			zap.Error(err))
	case ramperr.ClassConflict:
		e.logger.Debug("Ramp busy elsewhere",
			zap.String("ramp_id", rampID),
			zap.Error(err))
	default:
		e.logger.Error("Ramp failed",
			zap.String("ramp_id", rampID),
			zap.Error(err))
	}
}
