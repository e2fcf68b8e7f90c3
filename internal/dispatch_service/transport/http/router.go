package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authmw "github.com/worksuite/smsdispatch/internal/dispatch_service/middleware"
)

// NewRouter assembles the REST surface. The inbound webhook and the
// operational endpoints stay open; everything else requires a Bearer token.
func NewRouter(logger *slog.Logger, jwtSecret string, dispatchHandler *DispatchHandler, gatewayHandler *GatewayHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	dispatchHandler.RegisterWebhookRoutes(r)

	r.Group(func(protected chi.Router) {
		protected.Use(authmw.AuthMiddleware(jwtSecret, logger))
		dispatchHandler.RegisterRoutes(protected)
		gatewayHandler.RegisterRoutes(protected)
	})

	return r
}
