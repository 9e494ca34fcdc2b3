// Package handler exposes the server-side verification flow over HTTP, so
// resource servers in any language can delegate authorization checks to one
// facilitator service.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/raid-guild/x402-go/auth"
	"github.com/raid-guild/x402-go/core"
	"github.com/raid-guild/x402-go/store"
	"github.com/raid-guild/x402-go/types"
	"github.com/raid-guild/x402-go/utils"
)

// VerifyRequest is the request body of the verify endpoint. Authorization is
// the X-Payment-Authorization header value the resource server received.
type VerifyRequest struct {
	Authorization string `json:"authorization"`
}

// VerifyResponse is the response of the verify endpoint.
type VerifyResponse struct {
	IsValid       bool            `json:"is_valid"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Payer         string          `json:"payer,omitempty"`
	Amount        string          `json:"amount,omitempty"`
	InvalidReason types.ErrorCode `json:"invalid_reason,omitempty"`
}

// VerifyHandler is the HTTP handler for payment verification.
type VerifyHandler struct {
	verifier *core.Verifier
	requests store.RequestStore
	authCfg  auth.Config
	logger   *zap.Logger
}

// NewVerifyHandler creates a VerifyHandler. A nil logger means no logging.
func NewVerifyHandler(verifier *core.Verifier, requests store.RequestStore, authCfg auth.Config, logger *zap.Logger) *VerifyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerifyHandler{
		verifier: verifier,
		requests: requests,
		authCfg:  authCfg,
		logger:   logger,
	}
}

// ServeHTTP verifies a payment authorization against the issued request it
// references and on-chain state.
func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	// Authenticate request
	err := auth.Authenticate(r, h.authCfg)
	if err != nil {
		var se utils.StatusError
		if errors.As(err, &se) {
			http.Error(w, err.Error(), se.Status())
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Decode the request body
	var requestBody VerifyRequest
	err = json.NewDecoder(r.Body).Decode(&requestBody)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if requestBody.Authorization == "" {
		http.Error(w, "authorization is required", http.StatusBadRequest)
		return
	}

	// Verify the payment, distinguishing protocol rejections from
	// infrastructure failures
	payment, err := h.verifier.VerifyHeader(r.Context(), requestBody.Authorization, h.requests)
	if err != nil {
		var xe *types.X402Error
		if errors.As(err, &xe) {
			h.logger.Info("verification rejected",
				zap.String("code", string(xe.Code)),
			)
			writeJSON(w, http.StatusOK, VerifyResponse{
				IsValid:       false,
				InvalidReason: xe.Code,
			})
			return
		}

		h.logger.Error("verification failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Write the result to the response
	writeJSON(w, http.StatusOK, VerifyResponse{
		IsValid:   true,
		PaymentID: payment.PaymentID,
		Payer:     payment.Payer,
		Amount:    payment.Amount,
	})
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
