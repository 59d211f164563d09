package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ramp/internal/models"
)

// Store is the checkpoint persistence the ramp service needs.
type Store interface {
	SaveRampState(ctx context.Context, state *models.RampState) error
	LoadRampState(ctx context.Context, id string) (*models.RampState, error)
	DeleteRampState(ctx context.Context, id string) error
	ListActiveRampStates(ctx context.Context) ([]*models.RampState, error)
}

// Sweeper drains ephemeral accounts when a saga is abandoned.
type Sweeper interface {
	Sweep(ctx context.Context, keys models.EphemeralKeys) error
}

// RampService handles ramp lifecycle management around the coordinator.
type RampService struct {
	store   Store
	sweeper Sweeper
	logger  *zap.Logger
}

// NewRampService creates a new ramp service.
func NewRampService(store Store, sweeper Sweeper, logger *zap.Logger) *RampService {
	return &RampService{
		store:   store,
		sweeper: sweeper,
		logger:  logger,
	}
}

// CreateRamp validates the input, creates the saga's initial state, and
// persists the first checkpoint. The worker picks it up from there.
func (s *RampService) CreateRamp(ctx context.Context, input models.ExecutionInput) (*models.RampState, error) {
	if err := ValidateInput(input); err != nil {
		return nil, fmt.Errorf("invalid execution input: %w", err)
	}

	state := &models.RampState{
		ID:           uuid.New().String(),
		Direction:    input.Direction,
		Phase:        models.PhaseInitial,
		InputAmount:  models.NewAmount(input.InputRaw, input.InputDecs, input.InputSymbol),
		OutputAmount: models.NewAmount(input.QuotedOutRaw, input.OutputDecs, input.OutputSymbol),
		SlippageBps:  input.SlippageBps,
		AnchorFeeRaw: input.AnchorFeeRaw,
		AnchorDomain: input.AnchorDomain,
		UserAddress:  input.UserAddress,
	}

	if err := s.store.SaveRampState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to create ramp: %w", err)
	}

	s.logger.Info("Ramp created",
		zap.String("ramp_id", state.ID),
		zap.String("direction", string(state.Direction)),
		zap.String("input", state.InputAmount.Decimal+" "+state.InputAmount.Symbol),
		zap.String("quoted_out", state.OutputAmount.Decimal+" "+state.OutputAmount.Symbol))

	return state, nil
}

// GetRamp retrieves a ramp by id. A missing ramp returns (nil, nil).
func (s *RampService) GetRamp(ctx context.Context, id string) (*models.RampState, error) {
	return s.store.LoadRampState(ctx, id)
}

// ListActive returns every non-terminal ramp, oldest first.
func (s *RampService) ListActive(ctx context.Context) ([]*models.RampState, error) {
	return s.store.ListActiveRampStates(ctx)
}

// AbandonRamp deletes a failed saga's checkpoint after draining whatever is
// left on its ephemeral accounts. Active sagas cannot be abandoned; they are
// either advancing or recovering.
func (s *RampService) AbandonRamp(ctx context.Context, id string) error {
	state, err := s.store.LoadRampState(ctx, id)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("ramp %s not found", id)
	}
	if state.Phase != models.PhaseFailed {
		return fmt.Errorf("ramp %s is %s, only failed ramps can be abandoned", id, state.Phase)
	}

	if state.Keys.StellarAddress != "" {
		if err := s.sweeper.Sweep(ctx, state.Keys); err != nil {
			s.logger.Warn("Sweep incomplete during abandon",
				zap.String("ramp_id", id),
				zap.Error(err))
		}
	}

	if err := s.store.DeleteRampState(ctx, id); err != nil {
		return fmt.Errorf("failed to abandon ramp: %w", err)
	}

	s.logger.Info("Ramp abandoned", zap.String("ramp_id", id))
	return nil
}
