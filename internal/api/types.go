package api

// ==================== Ramp Creation ====================

// CreateRampRequest starts a new ramp. Amounts are raw base units as decimal
// strings.
type CreateRampRequest struct {
	Direction      string `json:"direction"` // "offramp" or "onramp"
	InputSymbol    string `json:"input_symbol"`
	InputRaw       string `json:"input_raw"`
	InputDecimals  uint8  `json:"input_decimals"`
	OutputSymbol   string `json:"output_symbol"`
	OutputDecimals uint8  `json:"output_decimals"`
	QuotedOutRaw   string `json:"quoted_out_raw"`
	SlippageBps    uint32 `json:"slippage_bps"`
	AnchorFeeRaw   string `json:"anchor_fee_raw"`
	AnchorDomain   string `json:"anchor_domain"`
	UserAddress    string `json:"user_address"`
}

// CreateRampResponse returns the created saga's handle.
type CreateRampResponse struct {
	RampID string `json:"ramp_id"`
	Phase  string `json:"phase"`
}

// ==================== Ramp Status ====================

// AmountView renders an amount for API consumers.
type AmountView struct {
	Raw     string `json:"raw"`
	Decimal string `json:"decimal"`
	Symbol  string `json:"symbol"`
}

// TxHashes holds the recorded transaction hashes of a ramp.
type TxHashes struct {
	BridgeApprove string `json:"bridge_approve,omitempty"`
	BridgeSwap    string `json:"bridge_swap,omitempty"`
	NablaApprove  string `json:"nabla_approve,omitempty"`
	NablaSwap     string `json:"nabla_swap,omitempty"`
	RedeemRequest string `json:"redeem_request,omitempty"`
	Settle        string `json:"settle,omitempty"`
}

// FailureView describes why a ramp failed.
type FailureView struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Class   string `json:"class"`
}

// GetRampResponse is the full ramp status.
type GetRampResponse struct {
	RampID         string       `json:"ramp_id"`
	Direction      string       `json:"direction"`
	Phase          string       `json:"phase"`
	InputAmount    AmountView   `json:"input_amount"`
	OutputAmount   AmountView   `json:"output_amount"`
	InteractiveURL string       `json:"interactive_url,omitempty"`
	TxHashes       TxHashes     `json:"tx_hashes"`
	Failure        *FailureView `json:"failure,omitempty"`
}

// ==================== Health ====================

// HealthResponse reports service and funding-account health.
type HealthResponse struct {
	Status  string `json:"status"`
	Funding string `json:"funding"`
	Version string `json:"version"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
