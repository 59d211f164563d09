// Package service holds the pre-saga business logic: quote math that turns a
// user's requested amount into the settlement the saga must deliver, and the
// ramp lifecycle around the coordinator.
package service

import (
	"fmt"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"ramp/internal/models"
	"ramp/internal/nabla"
)

// QuoteService derives the committed amounts of a ramp.
type QuoteService struct {
	logger *zap.Logger
}

// NewQuoteService creates a new quote service.
func NewQuoteService(logger *zap.Logger) *QuoteService {
	return &QuoteService{logger: logger}
}

// Quote is the full amount breakdown presented to the user before they
// confirm. GrossSettlement is what the anchor receives; NetOut is what
// reaches the user's bank account after the anchor fee.
type Quote struct {
	Input           models.Amount
	QuotedOut       models.Amount
	GrossSettlement models.Amount
	AnchorFee       models.Amount
	NetOut          models.Amount
}

// BuildQuote computes the settlement breakdown for an execution input.
// The gross settlement is the swap output the quote can guarantee after
// slippage: the anchor later has to commit to exactly this number.
//
// Example: 100 USDC in, 100 EURC quoted, 100 bps slippage, 0.25 EURC fee
// gives a gross settlement of 99.000000 EURC and a net of 98.750000 EURC.
func (s *QuoteService) BuildQuote(input models.ExecutionInput) (*Quote, error) {
	if err := ValidateInput(input); err != nil {
		return nil, err
	}

	gross := math.NewIntFromBigInt(nabla.MinOut(input.QuotedOutRaw.BigInt(), input.SlippageBps))
	net := gross.Sub(input.AnchorFeeRaw)
	if !net.IsPositive() {
		return nil, fmt.Errorf("anchor fee %s consumes the whole settlement %s",
			input.AnchorFeeRaw, gross)
	}

	quote := &Quote{
		Input:           models.NewAmount(input.InputRaw, input.InputDecs, input.InputSymbol),
		QuotedOut:       models.NewAmount(input.QuotedOutRaw, input.OutputDecs, input.OutputSymbol),
		GrossSettlement: models.NewAmount(gross, input.OutputDecs, input.OutputSymbol),
		AnchorFee:       models.NewAmount(input.AnchorFeeRaw, input.OutputDecs, input.OutputSymbol),
		NetOut:          models.NewAmount(net, input.OutputDecs, input.OutputSymbol),
	}

	s.logger.Debug("Quote built",
		zap.String("input", quote.Input.Decimal),
		zap.String("gross_settlement", quote.GrossSettlement.Decimal),
		zap.String("net_out", quote.NetOut.Decimal))

	return quote, nil
}

// ValidateInput rejects execution inputs the saga could not complete.
func ValidateInput(input models.ExecutionInput) error {
	switch input.Direction {
	case models.DirectionOfframp, models.DirectionOnramp:
	default:
		return fmt.Errorf("unknown direction %q", input.Direction)
	}
	if input.InputSymbol == "" || input.OutputSymbol == "" {
		return fmt.Errorf("input and output symbols are required")
	}
	if input.InputRaw.IsNil() || !input.InputRaw.IsPositive() {
		return fmt.Errorf("input amount must be positive")
	}
	if input.QuotedOutRaw.IsNil() || !input.QuotedOutRaw.IsPositive() {
		return fmt.Errorf("quoted output must be positive")
	}
	if input.AnchorFeeRaw.IsNil() || input.AnchorFeeRaw.IsNegative() {
		return fmt.Errorf("anchor fee must not be negative")
	}
	if input.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage %d bps is not below 100%%", input.SlippageBps)
	}
	if input.AnchorDomain == "" {
		return fmt.Errorf("anchor domain is required")
	}
	if input.UserAddress == "" {
		return fmt.Errorf("user address is required")
	}
	return nil
}
