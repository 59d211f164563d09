package service

import (
	"strings"
	"testing"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"ramp/internal/models"
)

func validInput() models.ExecutionInput {
	return models.ExecutionInput{
		Direction:    models.DirectionOfframp,
		InputSymbol:  "USDC",
		InputRaw:     math.NewInt(100_000_000),
		InputDecs:    6,
		OutputSymbol: "EURC",
		OutputDecs:   6,
		QuotedOutRaw: math.NewInt(100_000_000),
		SlippageBps:  100,
		AnchorFeeRaw: math.NewInt(250_000),
		AnchorDomain: "anchor.test",
		UserAddress:  "0x5555555555555555555555555555555555555555",
	}
}

func TestBuildQuote(t *testing.T) {
	q := NewQuoteService(zap.NewNop())

	quote, err := q.BuildQuote(validInput())
	if err != nil {
		t.Fatalf("BuildQuote: %v", err)
	}

	// 100 EURC quoted less 100 bps slippage = 99 EURC gross, 98.75 net
	// after the 0.25 EURC anchor fee.
	if quote.GrossSettlement.Decimal != "99.000000" {
		t.Errorf("gross = %s, want 99.000000", quote.GrossSettlement.Decimal)
	}
	if quote.NetOut.Decimal != "98.750000" {
		t.Errorf("net = %s, want 98.750000", quote.NetOut.Decimal)
	}
	if !quote.GrossSettlement.Consistent() || !quote.NetOut.Consistent() {
		t.Error("raw and decimal representations disagree")
	}
}

func TestBuildQuoteFeeSwallowsSettlement(t *testing.T) {
	q := NewQuoteService(zap.NewNop())

	input := validInput()
	input.AnchorFeeRaw = math.NewInt(99_000_000) // equals the gross settlement
	if _, err := q.BuildQuote(input); err == nil {
		t.Fatal("expected error when fee consumes the settlement")
	}
}

func TestValidateInput(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*models.ExecutionInput)
		wantErr string
	}{
		{"valid", func(in *models.ExecutionInput) {}, ""},
		{"bad direction", func(in *models.ExecutionInput) { in.Direction = "sideways" }, "direction"},
		{"zero input", func(in *models.ExecutionInput) { in.InputRaw = math.ZeroInt() }, "positive"},
		{"negative fee", func(in *models.ExecutionInput) { in.AnchorFeeRaw = math.NewInt(-1) }, "fee"},
		{"full slippage", func(in *models.ExecutionInput) { in.SlippageBps = 10_000 }, "slippage"},
		{"no anchor", func(in *models.ExecutionInput) { in.AnchorDomain = "" }, "anchor domain"},
		{"no user", func(in *models.ExecutionInput) { in.UserAddress = "" }, "user address"},
		{"no symbol", func(in *models.ExecutionInput) { in.OutputSymbol = "" }, "symbol"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			err := ValidateInput(input)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateInput: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}
