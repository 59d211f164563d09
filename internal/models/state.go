package models

import (
	"fmt"
	"strings"

	"cosmossdk.io/math"
)

// Amount carries both representations of a token amount. Raw (integer base
// units) is authoritative for on-chain calls; Decimal is used for display and
// fee math. The two must always agree.
type Amount struct {
	Raw      math.Int `json:"raw"`
	Decimal  string   `json:"decimal"`
	Symbol   string   `json:"symbol"`
	Decimals uint8    `json:"decimals"`
}

// NewAmount builds an Amount from raw base units, deriving the decimal form.
func NewAmount(raw math.Int, decimals uint8, symbol string) Amount {
	return Amount{
		Raw:      raw,
		Decimal:  FormatUnits(raw, decimals),
		Symbol:   symbol,
		Decimals: decimals,
	}
}

// Consistent reports whether the raw and decimal representations agree.
func (a Amount) Consistent() bool {
	return a.Decimal == FormatUnits(a.Raw, a.Decimals)
}

// FormatUnits renders raw base units as a decimal string with the full
// precision of the token (e.g. 100000000 with 6 decimals -> "100.000000").
func FormatUnits(raw math.Int, decimals uint8) string {
	s := raw.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	whole := s[:len(s)-d]
	frac := s[len(s)-d:]
	out := whole
	if d > 0 {
		out = whole + "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseUnits converts a decimal string into raw base units. Excess fractional
// digits are rejected rather than truncated; amounts are money.
func ParseUnits(decimal string, decimals uint8) (math.Int, error) {
	decimal = strings.TrimSpace(decimal)
	if decimal == "" {
		return math.ZeroInt(), fmt.Errorf("empty amount")
	}
	neg := strings.HasPrefix(decimal, "-")
	if neg {
		decimal = decimal[1:]
	}
	parts := strings.SplitN(decimal, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > int(decimals) {
		return math.ZeroInt(), fmt.Errorf("amount %q exceeds %d decimal places", decimal, decimals)
	}
	frac = frac + strings.Repeat("0", int(decimals)-len(frac))
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		digits = "0"
	}
	raw, ok := math.NewIntFromString(digits)
	if !ok {
		return math.ZeroInt(), fmt.Errorf("invalid amount %q", decimal)
	}
	if neg {
		raw = raw.Neg()
	}
	return raw, nil
}

// EphemeralKeys holds the single-use keypairs owned by one saga instance.
// Secrets are persisted so a restarted process can keep operating the same
// accounts; they are deleted together with the checkpoint after cleanup.
type EphemeralKeys struct {
	StellarSecret    string `json:"stellar_secret,omitempty"`
	StellarAddress   string `json:"stellar_address,omitempty"`
	SubstrateSeed    string `json:"substrate_seed,omitempty"`
	SubstrateAddress string `json:"substrate_address,omitempty"`
}

// AnchorSession holds the artifacts accumulated through SEP-10/SEP-24.
type AnchorSession struct {
	Token             string `json:"token,omitempty"`
	InteractiveID     string `json:"interactive_id,omitempty"`
	InteractiveURL    string `json:"interactive_url,omitempty"`
	SettlementAmount  string `json:"settlement_amount,omitempty"`
	SettlementMemo    string `json:"settlement_memo,omitempty"`
	SettlementMemoTyp string `json:"settlement_memo_type,omitempty"`
	SettlementAccount string `json:"settlement_account,omitempty"`
}

// TxRecords is one slot per irreversible on-chain action. Presence of a
// value is the recovery signal that the action was already submitted; a slot
// is never overwritten with a different value.
type TxRecords struct {
	BridgeApprove string `json:"bridge_approve,omitempty"`
	BridgeSwap    string `json:"bridge_swap,omitempty"`
	NablaApprove  string `json:"nabla_approve,omitempty"`
	NablaSwap     string `json:"nabla_swap,omitempty"`
	RedeemRequest string `json:"redeem_request,omitempty"`
	Settle        string `json:"settle,omitempty"`
}

// Failure records a fatal error. It is set once and never cleared
// automatically.
type Failure struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
	Class   string `json:"class"`
}

// ExecutionInput is what the caller submits to start a ramp.
type ExecutionInput struct {
	Direction    Direction `json:"direction"`
	InputSymbol  string    `json:"input_symbol"`
	InputRaw     math.Int  `json:"input_raw"`
	InputDecs    uint8     `json:"input_decimals"`
	OutputSymbol string    `json:"output_symbol"`
	OutputDecs   uint8     `json:"output_decimals"`
	QuotedOutRaw math.Int  `json:"quoted_out_raw"`
	SlippageBps  uint32    `json:"slippage_bps"`
	AnchorFeeRaw math.Int  `json:"anchor_fee_raw"`
	AnchorDomain string    `json:"anchor_domain"`
	UserAddress  string    `json:"user_address"`
}

// RampState is the saga's single source of truth. It is created once per
// user-confirmed ramp request, persisted after every phase transition, and
// deleted only after cleanup completes or the user abandons a failed saga.
type RampState struct {
	ID           string        `json:"id"`
	Direction    Direction     `json:"direction"`
	Phase        Phase         `json:"phase"`
	InputAmount  Amount        `json:"input_amount"`
	OutputAmount Amount        `json:"output_amount"`
	SlippageBps  uint32        `json:"slippage_bps"`
	AnchorFeeRaw math.Int      `json:"anchor_fee_raw"`
	AnchorDomain string        `json:"anchor_domain"`
	UserAddress  string        `json:"user_address"`
	Keys         EphemeralKeys `json:"keys"`
	Anchor       AnchorSession `json:"anchor"`
	BridgeOutRaw string        `json:"bridge_out_raw,omitempty"` // raw units delivered by the bridge, swap input
	Tx           TxRecords     `json:"tx"`
	Failure      *Failure      `json:"failure,omitempty"`
	Recovering   bool          `json:"recovering,omitempty"`
}

// TxSlot names a TxRecords field for RecordTx.
type TxSlot string

const (
	SlotBridgeApprove TxSlot = "bridgeApprove"
	SlotBridgeSwap    TxSlot = "bridgeSwap"
	SlotNablaApprove  TxSlot = "nablaApprove"
	SlotNablaSwap     TxSlot = "nablaSwap"
	SlotRedeemRequest TxSlot = "redeemRequest"
	SlotSettle        TxSlot = "settle"
)

// TxAt returns the recorded value for a slot.
func (s *RampState) TxAt(slot TxSlot) string {
	switch slot {
	case SlotBridgeApprove:
		return s.Tx.BridgeApprove
	case SlotBridgeSwap:
		return s.Tx.BridgeSwap
	case SlotNablaApprove:
		return s.Tx.NablaApprove
	case SlotNablaSwap:
		return s.Tx.NablaSwap
	case SlotRedeemRequest:
		return s.Tx.RedeemRequest
	case SlotSettle:
		return s.Tx.Settle
	}
	return ""
}

// RecordTx sets a transaction slot. A slot already holding a different value
// is never overwritten: the recorded hash is the idempotency key for that
// step.
func (s *RampState) RecordTx(slot TxSlot, value string) error {
	existing := s.TxAt(slot)
	if existing != "" && existing != value {
		return fmt.Errorf("tx slot %s already holds %s, refusing to overwrite with %s", slot, existing, value)
	}
	switch slot {
	case SlotBridgeApprove:
		s.Tx.BridgeApprove = value
	case SlotBridgeSwap:
		s.Tx.BridgeSwap = value
	case SlotNablaApprove:
		s.Tx.NablaApprove = value
	case SlotNablaSwap:
		s.Tx.NablaSwap = value
	case SlotRedeemRequest:
		s.Tx.RedeemRequest = value
	case SlotSettle:
		s.Tx.Settle = value
	default:
		return fmt.Errorf("unknown tx slot %s", slot)
	}
	return nil
}

// Fail marks the state failed at its current phase. The failure, once set,
// sticks; later errors do not replace the first cause.
func (s *RampState) Fail(message, class string) {
	if s.Failure == nil {
		s.Failure = &Failure{Phase: s.Phase, Message: message, Class: class}
	}
	s.Phase = PhaseFailed
}
