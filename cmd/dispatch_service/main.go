package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/app"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/gateway"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/provider"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/repository/postgres"
	transporthttp "github.com/worksuite/smsdispatch/internal/dispatch_service/transport/http"
	"github.com/worksuite/smsdispatch/internal/platform/config"
	"github.com/worksuite/smsdispatch/internal/platform/database"
	"github.com/worksuite/smsdispatch/internal/platform/logger"
	"github.com/worksuite/smsdispatch/internal/platform/messagebroker"
)

const (
	serviceName     = "dispatch_service"
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer mainCancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel).With("service", serviceName)
	log.Info("starting service")

	startupCtx, startupCancel := context.WithTimeout(mainCtx, startupTimeout)
	defer startupCancel()

	// Record persistence is best-effort: without a database the service still
	// dispatches, it just keeps no records.
	var records domain.RecordStore
	dbPool, err := database.NewDBPool(startupCtx, cfg.PostgresDSN)
	if err != nil {
		log.Warn("database unavailable, running without delivery records", "error", err)
	} else {
		defer dbPool.Close()
		records = postgres.NewRecordRepository(dbPool, log)
		log.Info("database connection pool initialized")
	}

	// Without NATS the bulk endpoint reports unavailability; single sends
	// keep working.
	var queue app.QueuePublisher
	var natsClient *messagebroker.NATSClient
	natsClient, err = messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, log)
	if err != nil {
		log.Warn("NATS unavailable, bulk dispatch disabled", "error", err)
		natsClient = nil
	} else {
		defer natsClient.Close()
		queue = natsClient
		log.Info("NATS connection initialized")
	}

	registry := provider.NewRegistry(
		provider.NewTwilioClient(provider.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		}, nil, log),
		provider.NewVonageClient(provider.VonageConfig{
			APIKey:    cfg.VonageAPIKey,
			APISecret: cfg.VonageAPISecret,
			FromName:  cfg.VonageFromNumber,
		}, nil, log),
		provider.NewSNSClient(provider.SNSConfig{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.AWSRegion,
		}, nil, log),
	)

	adapter := gateway.NewAdapter(log, nil, cfg.GatewayStatusEndpoints, cfg.GatewayInventoryEndpoints)

	orchestrator := app.NewOrchestrator(log, app.OrchestratorConfig{
		Providers:      registry,
		GatewayAdapter: adapter,
		GatewayCreds: domain.GatewayCredentials{
			BaseURL:      cfg.Gateway.BaseURL,
			Port:         cfg.Gateway.Port,
			Username:     cfg.Gateway.Username,
			Password:     cfg.Gateway.Password,
			SerialNumber: cfg.Gateway.SerialNumber,
		},
		Templates:       app.NewInMemoryTemplateResolver(nil),
		Groups:          app.NewInMemoryGroupResolver(nil),
		Records:         records,
		Queue:           queue,
		DefaultProvider: cfg.DefaultProvider,
		EnableFallback:  cfg.EnableFallback,
		FallbackOrder:   cfg.FallbackProviders,
	})

	router := transporthttp.NewRouter(log, cfg.JWTSecret,
		transporthttp.NewDispatchHandler(orchestrator, log),
		transporthttp.NewGatewayHandler(orchestrator, log))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	if natsClient != nil {
		worker := app.NewBulkWorker(log, orchestrator, natsClient)
		g.Go(func() error {
			return worker.Run(groupCtx)
		})
	}

	log.Info("service ready")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("service shutdown complete")
}
