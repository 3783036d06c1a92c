package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/wikisolucoes/ledger-core/internal/models"
	"github.com/wikisolucoes/ledger-core/internal/services"
	"github.com/wikisolucoes/ledger-core/internal/store"
)

type LedgerHandler struct {
	service   *services.LedgerService
	recon     *services.ReconciliationService
	validator *services.ValidationHelper
}

func NewLedgerHandler(service *services.LedgerService, recon *services.ReconciliationService) *LedgerHandler {
	return &LedgerHandler{
		service:   service,
		recon:     recon,
		validator: services.NewValidationHelper(),
	}
}

// CashIn registers an incoming payment
// @Summary Create a cash-in
// @Description Register a payment with the gateway and record a pending credit
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CashInRequest true "Cash-in request"
// @Success 200 {object} models.OperationResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /ledger/cash-in [post]
func (h *LedgerHandler) CashIn(w http.ResponseWriter, r *http.Request) {
	var req models.CashInRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.ProcessCashIn(r.Context(), &req)
	if err != nil {
		h.sendOperationError(w, err)
		return
	}

	response := map[string]any{
		"success": result.Success,
		"data":    result,
	}
	// Instant payments carry a copy-paste payload; render it as a scannable
	// PNG as well so front ends don't need their own QR library.
	if result.QRPayload != "" {
		if png, err := qrcode.Encode(result.QRPayload, qrcode.Medium, 256); err == nil {
			response["qrImage"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		} else {
			log.Printf("[LEDGER] QR image rendering failed for %s: %v", result.CorrelationID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CashOut requests a withdrawal
// @Summary Create a cash-out
// @Description Reserve funds and request a withdrawal to a bank account
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CashOutRequest true "Cash-out request"
// @Success 200 {object} models.OperationResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /ledger/cash-out [post]
func (h *LedgerHandler) CashOut(w http.ResponseWriter, r *http.Request) {
	var req models.CashOutRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.ProcessCashOut(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientBalance):
			services.SendErrorResponse(w, "Insufficient balance", http.StatusUnprocessableEntity, nil)
		case errors.Is(err, services.ErrGatewayRejected):
			// The reservation has already been reversed; the result carries
			// the reversed entry for the caller's records.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"data":    result,
			})
		default:
			h.sendOperationError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": result.Success,
		"data":    result,
	})
}

// Balance returns the tenant's balances
// @Summary Get tenant balance
// @Description Get confirmed and spendable balances for a tenant
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} object{tenantId=string,balance=int64,spendable=int64}
// @Failure 500 {object} services.ErrorResponse
// @Router /ledger/{tenantId}/balance [get]
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	balance, err := h.service.Balance(r.Context(), tenantID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		return
	}
	spendable, err := h.service.SpendableBalance(r.Context(), tenantID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"tenantId":  tenantID,
		"balance":   balance,
		"spendable": spendable,
	})
}

// Entries lists a tenant's ledger entries
// @Summary List ledger entries
// @Description List ledger entries for a tenant, newest first
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param tenantId path string true "Tenant ID"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Offset"
// @Success 200 {array} models.LedgerEntry
// @Failure 500 {object} services.ErrorResponse
// @Router /ledger/{tenantId}/entries [get]
func (h *LedgerHandler) Entries(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := h.service.Entries(r.Context(), tenantID, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"tenantId": tenantID,
		"entries":  entries,
		"count":    len(entries),
	})
}

// Operation fetches one operation by correlation id
// @Summary Get operation
// @Description Fetch the transaction log row for a correlation id
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param correlationId path string true "Correlation ID"
// @Success 200 {object} models.TransactionLog
// @Failure 404 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /ledger/operations/{correlationId} [get]
func (h *LedgerHandler) Operation(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationId")

	lg, err := h.service.Operation(r.Context(), correlationID)
	if errors.Is(err, store.ErrLogNotFound) {
		services.SendErrorResponse(w, "Operation not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch operation", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(lg)
}

// Reconcile triggers a balance sync for one tenant
// @Summary Reconcile tenant
// @Description Compare internal and gateway balances for a tenant on demand
// @Tags reconciliation
// @Produce json
// @Security BearerAuth
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} services.BalanceSyncResult
// @Failure 404 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /reconciliation/{tenantId} [post]
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	result, err := h.recon.SyncBalance(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, services.ErrTenantNotOnboarded) {
			services.SendErrorResponse(w, "Tenant not onboarded", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Reconciliation failed: "+err.Error(), http.StatusBadGateway, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *LedgerHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *LedgerHandler) sendOperationError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrTenantNotOnboarded) {
		services.SendErrorResponse(w, "Tenant not onboarded", http.StatusNotFound, nil)
		return
	}
	log.Printf("[LEDGER] Operation failed: %v", err)
	services.SendErrorResponse(w, "Operation failed", http.StatusInternalServerError, nil)
}
