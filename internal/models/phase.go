package models

import "fmt"

// Direction distinguishes the two ramp flavours. Both traverse the same
// phase shape; the per-direction sequences below pick the subset each one
// actually visits.
type Direction string

const (
	DirectionOfframp Direction = "offramp"
	DirectionOnramp  Direction = "onramp"
)

// Phase identifies the saga step that runs next. The set is closed and
// totally ordered; the coordinator dispatches on it exhaustively.
type Phase string

const (
	PhaseInitial           Phase = "initial"
	PhaseSep10             Phase = "sep10"
	PhaseSep24             Phase = "sep24"
	PhaseBridgeApprove     Phase = "bridgeApprove"
	PhaseBridgeSwap        Phase = "bridgeSwap"
	PhaseFundEphemeral     Phase = "fundEphemeral"
	PhaseSubsidizePreSwap  Phase = "subsidizePreSwap"
	PhaseNablaApprove      Phase = "nablaApprove"
	PhaseNablaSwap         Phase = "nablaSwap"
	PhaseSubsidizePostSwap Phase = "subsidizePostSwap"
	PhaseRedeemRequest     Phase = "redeemRequest"
	PhaseRedeemWait        Phase = "redeemWait"
	PhaseSettle            Phase = "settle"
	PhaseCleanup           Phase = "cleanup"
	PhaseSuccess           Phase = "success"
	PhaseFailed            Phase = "failed"
)

// offrampSequence is the canonical off-ramp traversal: source-chain asset is
// bridged to the parachain, swapped, redeemed through a vault to the
// ephemeral Stellar account, and paid out to the anchor.
var offrampSequence = []Phase{
	PhaseInitial,
	PhaseSep10,
	PhaseSep24,
	PhaseBridgeApprove,
	PhaseBridgeSwap,
	PhaseFundEphemeral,
	PhaseSubsidizePreSwap,
	PhaseNablaApprove,
	PhaseNablaSwap,
	PhaseSubsidizePostSwap,
	PhaseRedeemRequest,
	PhaseRedeemWait,
	PhaseSettle,
	PhaseCleanup,
	PhaseSuccess,
}

// onrampSequence mirrors the off-ramp: the anchor-issued asset lands on the
// ephemeral account, is swapped on the parachain, and bridged out to the
// user's EVM wallet at the end. Vault redemption and the anchor settlement
// payment are not part of this direction.
var onrampSequence = []Phase{
	PhaseInitial,
	PhaseSep10,
	PhaseSep24,
	PhaseFundEphemeral,
	PhaseSubsidizePreSwap,
	PhaseNablaApprove,
	PhaseNablaSwap,
	PhaseSubsidizePostSwap,
	PhaseBridgeApprove,
	PhaseBridgeSwap,
	PhaseCleanup,
	PhaseSuccess,
}

// Sequence returns the ordered phase traversal for a direction.
func Sequence(d Direction) []Phase {
	if d == DirectionOnramp {
		return onrampSequence
	}
	return offrampSequence
}

// Next returns the phase following p in the direction's traversal.
// Terminal phases have no successor.
func Next(d Direction, p Phase) (Phase, error) {
	seq := Sequence(d)
	for i, ph := range seq {
		if ph == p {
			if i == len(seq)-1 {
				return "", fmt.Errorf("phase %s is terminal", p)
			}
			return seq[i+1], nil
		}
	}
	return "", fmt.Errorf("phase %s not in %s traversal", p, d)
}

// Index returns the position of p in the direction's traversal, or -1.
// failed is ordered after every non-terminal phase.
func Index(d Direction, p Phase) int {
	if p == PhaseFailed {
		return len(Sequence(d))
	}
	for i, ph := range Sequence(d) {
		if ph == p {
			return i
		}
	}
	return -1
}

// Terminal reports whether p ends the saga.
func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseFailed
}

// Valid reports whether p belongs to the closed phase set.
func (p Phase) Valid() bool {
	switch p {
	case PhaseInitial, PhaseSep10, PhaseSep24, PhaseBridgeApprove,
		PhaseBridgeSwap, PhaseFundEphemeral, PhaseSubsidizePreSwap,
		PhaseNablaApprove, PhaseNablaSwap, PhaseSubsidizePostSwap,
		PhaseRedeemRequest, PhaseRedeemWait, PhaseSettle, PhaseCleanup,
		PhaseSuccess, PhaseFailed:
		return true
	}
	return false
}
