// Package api exposes the ramp service over HTTP: start a ramp, read its
// status, abandon a failed one.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"cosmossdk.io/math"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ramp/internal/backend"
	"ramp/internal/models"
)

// RampLifecycle is the service surface the handlers call.
type RampLifecycle interface {
	CreateRamp(ctx context.Context, input models.ExecutionInput) (*models.RampState, error)
	GetRamp(ctx context.Context, id string) (*models.RampState, error)
	AbandonRamp(ctx context.Context, id string) error
}

// FundingChecker reports backend funding health for the health endpoint.
type FundingChecker interface {
	Status(ctx context.Context) (backend.FundingStatus, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	ramps   RampLifecycle
	funding FundingChecker
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(ramps RampLifecycle, funding FundingChecker, logger *zap.Logger) *Handler {
	return &Handler{
		ramps:   ramps,
		funding: funding,
		logger:  logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health, including funding-account health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	funding := "ok"
	status, err := h.funding.Status(r.Context())
	if err != nil {
		funding = "unreachable"
	} else if !status.Healthy {
		funding = "degraded"
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Funding: funding,
		Version: "1.0.0",
	})
}

// ==================== Ramp Creation ====================

// HandleCreateRamp handles POST /api/v1/ramps.
func (h *Handler) HandleCreateRamp(w http.ResponseWriter, r *http.Request) {
	var req CreateRampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input, err := executionInput(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ramp parameters", err)
		return
	}

	state, err := h.ramps.CreateRamp(r.Context(), input)
	if err != nil {
		if strings.Contains(err.Error(), "invalid execution input") {
			respondError(w, http.StatusBadRequest, "Invalid ramp parameters", err)
			return
		}
		h.logger.Error("Failed to create ramp", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create ramp", err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateRampResponse{
		RampID: state.ID,
		Phase:  string(state.Phase),
	})
}

func executionInput(req CreateRampRequest) (models.ExecutionInput, error) {
	inputRaw, ok := math.NewIntFromString(req.InputRaw)
	if !ok {
		return models.ExecutionInput{}, fmt.Errorf("input_raw %q is not an integer", req.InputRaw)
	}
	quotedRaw, ok := math.NewIntFromString(req.QuotedOutRaw)
	if !ok {
		return models.ExecutionInput{}, fmt.Errorf("quoted_out_raw %q is not an integer", req.QuotedOutRaw)
	}
	feeRaw, ok := math.NewIntFromString(req.AnchorFeeRaw)
	if !ok {
		return models.ExecutionInput{}, fmt.Errorf("anchor_fee_raw %q is not an integer", req.AnchorFeeRaw)
	}

	return models.ExecutionInput{
		Direction:    models.Direction(req.Direction),
		InputSymbol:  req.InputSymbol,
		InputRaw:     inputRaw,
		InputDecs:    req.InputDecimals,
		OutputSymbol: req.OutputSymbol,
		OutputDecs:   req.OutputDecimals,
		QuotedOutRaw: quotedRaw,
		SlippageBps:  req.SlippageBps,
		AnchorFeeRaw: feeRaw,
		AnchorDomain: req.AnchorDomain,
		UserAddress:  req.UserAddress,
	}, nil
}

// ==================== Ramp Status ====================

// HandleGetRamp handles GET /api/v1/ramps/{rampId}.
func (h *Handler) HandleGetRamp(w http.ResponseWriter, r *http.Request) {
	rampID := mux.Vars(r)["rampId"]
	if rampID == "" {
		respondError(w, http.StatusBadRequest, "ramp_id is required", nil)
		return
	}

	state, err := h.ramps.GetRamp(r.Context(), rampID)
	if err != nil {
		h.logger.Error("Failed to get ramp",
			zap.String("ramp_id", rampID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get ramp", err)
		return
	}
	if state == nil {
		respondError(w, http.StatusNotFound, "Ramp not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, rampView(state))
}

func rampView(state *models.RampState) GetRampResponse {
	resp := GetRampResponse{
		RampID:    state.ID,
		Direction: string(state.Direction),
		Phase:     string(state.Phase),
		InputAmount: AmountView{
			Raw:     state.InputAmount.Raw.String(),
			Decimal: state.InputAmount.Decimal,
			Symbol:  state.InputAmount.Symbol,
		},
		OutputAmount: AmountView{
			Raw:     state.OutputAmount.Raw.String(),
			Decimal: state.OutputAmount.Decimal,
			Symbol:  state.OutputAmount.Symbol,
		},
		InteractiveURL: state.Anchor.InteractiveURL,
		TxHashes: TxHashes{
			BridgeApprove: state.Tx.BridgeApprove,
			BridgeSwap:    state.Tx.BridgeSwap,
			NablaApprove:  state.Tx.NablaApprove,
			NablaSwap:     state.Tx.NablaSwap,
			RedeemRequest: state.Tx.RedeemRequest,
			Settle:        state.Tx.Settle,
		},
	}
	if state.Failure != nil {
		resp.Failure = &FailureView{
			Phase:   string(state.Failure.Phase),
			Message: state.Failure.Message,
			Class:   state.Failure.Class,
		}
	}
	return resp
}

// ==================== Ramp Abandonment ====================

// HandleAbandonRamp handles POST /api/v1/ramps/{rampId}/abandon.
func (h *Handler) HandleAbandonRamp(w http.ResponseWriter, r *http.Request) {
	rampID := mux.Vars(r)["rampId"]
	if rampID == "" {
		respondError(w, http.StatusBadRequest, "ramp_id is required", nil)
		return
	}

	if err := h.ramps.AbandonRamp(r.Context(), rampID); err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "not found"):
			respondError(w, http.StatusNotFound, "Ramp not found", nil)
		case strings.Contains(msg, "only failed ramps"):
			respondError(w, http.StatusConflict, "Ramp is still active", err)
		default:
			h.logger.Error("Failed to abandon ramp",
				zap.String("ramp_id", rampID),
				zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to abandon ramp", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"ramp_id": rampID, "status": "abandoned"})
}

// ==================== Helper Functions ====================

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	respondJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Message: errorMsg,
	})
}
