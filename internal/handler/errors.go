package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
	"github.com/xenking/cargo-orchestrator/internal/domain/shipment"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// CarrierResponse is the carrier's raw reply when a carrier step failed.
	CarrierResponse any `json:"carrier_response,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, payload []byte) {
	resp := errorResponse{Code: status, Message: message}
	if len(payload) > 0 {
		if json.Valid(payload) {
			resp.CarrierResponse = json.RawMessage(payload)
		} else {
			resp.CarrierResponse = string(payload)
		}
	}
	writeJSON(w, status, resp)
}

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	var cerr *carrier.Error
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, shipment.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shipment.ErrOrderNotFound),
		errors.Is(err, wallet.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shipment.ErrAlreadyShipped),
		errors.Is(err, shipment.ErrAlreadyCancelled),
		errors.Is(err, shipment.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, shipment.ErrInvalidOrder),
		errors.Is(err, shipment.ErrInvalidCharge),
		errors.Is(err, pricing.ErrInvalidRequest),
		errors.Is(err, pricing.ErrNoServices),
		errors.Is(err, plan.ErrUnknownTier),
		errors.Is(err, plan.ErrNoCustomer),
		errors.Is(err, wallet.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shipment.ErrCarrierUnavailable),
		errors.Is(err, shipment.ErrAssociationFailed),
		errors.Is(err, shipment.ErrCancellationRejected),
		errors.Is(err, carrier.ErrUnauthorized),
		errors.As(err, &cerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Unexpected errors are logged and their
// text is not exposed.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, status, "internal error", nil)
		return
	}

	var payload []byte
	var failure *shipment.CarrierFailure
	var cerr *carrier.Error
	switch {
	case errors.As(err, &failure):
		payload = failure.Payload()
	case errors.As(err, &cerr):
		payload = cerr.Payload
	}
	writeError(w, status, err.Error(), payload)
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}
