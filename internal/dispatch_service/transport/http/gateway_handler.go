package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

type GatewayHandler struct {
	service DispatchService
	logger  *slog.Logger
}

func NewGatewayHandler(service DispatchService, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service: service,
		logger:  logger.With("handler", "gateway"),
	}
}

// RegisterRoutes registers the hardware gateway diagnostics routes.
func (h *GatewayHandler) RegisterRoutes(r chi.Router) {
	r.Post("/gateway/connect", h.handleConnect)
	r.Get("/gateway/inventory", h.handleInventory)
	r.Get("/gateway/status/{sessionID}", h.handleStatus)
}

func (h *GatewayHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	if err := h.service.GatewayConnect(ctx); err != nil {
		logger.WarnContext(ctx, "gateway unreachable", "error", err)
		writeJSON(w, http.StatusBadGateway, GatewayConnectResponse{
			Reachable: false,
			Detail:    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, GatewayConnectResponse{Reachable: true})
}

func (h *GatewayHandler) handleInventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	result, err := h.service.GatewayInventory(ctx)
	if err != nil {
		logger.WarnContext(ctx, "inventory probe failed", "error", err)
		jsonError(w, logger, err.Error(), statusForError(err))
		return
	}

	channels := result.Channels
	if channels == nil {
		// Never marshal null for the channel list.
		channels = []domain.ChannelStatus{}
	}
	if !result.Available {
		// Indeterminate, not an error; 200 with available=false.
		logger.InfoContext(ctx, "inventory unavailable on all candidates")
	}
	writeJSON(w, http.StatusOK, GatewayInventoryResponse{
		Available: result.Available,
		Endpoint:  result.Endpoint,
		Channels:  channels,
	})
}

func (h *GatewayHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	sessionID, err := strconv.Atoi(chi.URLParam(r, "sessionID"))
	if err != nil || sessionID < 1000 || sessionID > 9999 {
		jsonError(w, logger, "Invalid session id", http.StatusBadRequest)
		return
	}
	messageID := r.URL.Query().Get("message_id")

	result, probeErr := h.service.GatewayStatus(ctx, sessionID, messageID)
	if probeErr != nil {
		logger.WarnContext(ctx, "status probe failed", "error", probeErr)
		jsonError(w, logger, probeErr.Error(), statusForError(probeErr))
		return
	}

	writeJSON(w, http.StatusOK, GatewayStatusResponse{
		Known:          result.Known,
		Endpoint:       result.Endpoint,
		RawStatus:      result.RawStatus,
		DeliveryStatus: result.DeliveryStatus,
	})
}
