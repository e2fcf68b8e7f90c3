// Package http exposes the dispatch service's REST surface.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/app"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/gateway"
)

// DispatchService is the orchestrator surface the handlers call.
type DispatchService interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DeliveryRecord, error)
	BulkDispatch(ctx context.Context, req app.BulkRequest) (*app.BulkReceipt, error)
	RecordInbound(ctx context.Context, sender, message, providerName string, receivedAt time.Time) (*domain.DeliveryRecord, error)
	GatewayConnect(ctx context.Context) error
	GatewayInventory(ctx context.Context) (*gateway.InventoryResult, error)
	GatewayStatus(ctx context.Context, sessionID int, messageID string) (*gateway.StatusResult, error)
}

type DispatchHandler struct {
	service  DispatchService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewDispatchHandler(service DispatchService, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With("handler", "dispatch"),
	}
}

// RegisterRoutes registers the message routes with the given router.
func (h *DispatchHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/send", h.handleSend)
	r.Post("/messages/bulk", h.handleBulkSend)
}

// RegisterWebhookRoutes registers the unauthenticated inbound webhook.
func (h *DispatchHandler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/messages/incoming", h.handleIncoming)
}

func (h *DispatchHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		jsonError(w, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	record, err := h.service.Dispatch(ctx, domain.DispatchRequest{
		Recipient:         req.Recipient,
		Message:           req.Message,
		TemplateID:        req.TemplateID,
		TemplateVariables: req.TemplateVariables,
		Provider:          req.Provider,
		SubChannel:        req.SubChannel,
	})
	if err != nil && record == nil {
		logger.WarnContext(ctx, "dispatch rejected", "error", err)
		jsonError(w, logger, err.Error(), statusForError(err))
		return
	}

	response := sendResponseFromRecord(record)
	status := http.StatusAccepted
	if err != nil {
		// Every backend failed; the record carries the failure detail.
		logger.WarnContext(ctx, "dispatch failed on all backends",
			"record_id", record.ID, "error", err)
		status = http.StatusBadGateway
	}
	writeJSON(w, status, response)
}

func (h *DispatchHandler) handleBulkSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req BulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		jsonError(w, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := h.service.BulkDispatch(ctx, app.BulkRequest{
		Recipients:        req.Recipients,
		GroupIDs:          req.GroupIDs,
		Message:           req.Message,
		TemplateID:        req.TemplateID,
		TemplateVariables: req.TemplateVariables,
		Provider:          req.Provider,
	})
	if err != nil {
		logger.WarnContext(ctx, "bulk dispatch rejected", "error", err)
		jsonError(w, logger, err.Error(), statusForError(err))
		return
	}

	response := BulkSendResponse{
		CampaignID: receipt.CampaignID,
		Queued:     receipt.Queued,
		Failed:     receipt.Failed,
	}
	if receipt.EstimatedCost != nil {
		response.EstimatedCost = &CostEstimateDTO{
			Segments:   receipt.EstimatedCost.Segments,
			Recipients: receipt.EstimatedCost.Recipients,
			Amount:     receipt.EstimatedCost.Amount,
			Currency:   receipt.EstimatedCost.Currency,
		}
	}
	writeJSON(w, http.StatusAccepted, response)
}

func (h *DispatchHandler) handleIncoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req InboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		jsonError(w, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	receivedAt := time.Time{}
	if req.Timestamp != nil {
		receivedAt = *req.Timestamp
	}
	providerName := req.Provider
	if providerName == "" {
		providerName = app.GatewayName
	}

	record, err := h.service.RecordInbound(ctx, req.Sender, req.Message, providerName, receivedAt)
	if err != nil {
		logger.ErrorContext(ctx, "failed to record inbound message", "error", err)
		jsonError(w, logger, "Failed to record message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, InboundMessageResponse{RecordID: record.ID})
}

func sendResponseFromRecord(record *domain.DeliveryRecord) SendMessageResponse {
	return SendMessageResponse{
		RecordID:          record.ID,
		Status:            record.Status,
		Provider:          record.Provider,
		Recipient:         record.Recipient,
		ProviderMessageID: record.ProviderMessageID,
		SessionID:         record.SessionID,
		Cost:              record.Cost,
		Currency:          record.Currency,
		ErrorMessage:      record.ErrorMessage,
	}
}

// statusForError maps the dispatch error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrTemplateNotFound),
		errors.Is(err, domain.ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMisconfiguredProvider):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUnreachable),
		errors.Is(err, domain.ErrConnectionRefused),
		errors.Is(err, domain.ErrTLSFailure),
		errors.Is(err, domain.ErrAuthenticationFailed),
		errors.Is(err, domain.ErrEndpointNotFound),
		errors.Is(err, domain.ErrProtocol),
		errors.Is(err, domain.ErrRejected),
		errors.Is(err, domain.ErrAllProvidersFailed):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	logger.Warn("API error response", "status_code", statusCode, "message", message)
	writeJSON(w, statusCode, GenericErrorResponse{Error: message})
}
