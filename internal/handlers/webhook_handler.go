package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/wikisolucoes/ledger-core/internal/services"
)

// SignatureHeader carries the gateway's HMAC over the raw request body.
const SignatureHeader = "X-Gateway-Signature"

type WebhookHandler struct {
	service *services.LedgerService
}

func NewWebhookHandler(service *services.LedgerService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Receive accepts a gateway status callback
// @Summary Receive gateway webhook
// @Description Verify and apply a payment status notification from the gateway
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "HMAC-SHA256 signature over the raw body"
// @Success 200 {object} object{received=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/gateway [post]
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	// The signature covers the raw bytes, so the body is read before any
	// JSON decoding happens.
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if err := h.service.HandleWebhook(r.Context(), payload, signature); err != nil {
		if errors.Is(err, services.ErrInvalidWebhookSignature) {
			log.Printf("[WEBHOOK] Rejected webhook with bad signature from %s", r.RemoteAddr)
			services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
			return
		}
		log.Printf("[WEBHOOK] Processing failed: %v", err)
		services.SendErrorResponse(w, "Webhook processing failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
