// Package app holds the dispatch orchestration core: backend selection,
// ordered fallback, template resolution and bulk queueing.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/gateway"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/provider"
)

// GatewayName routes a dispatch to the hardware gateway instead of a carrier
// backend.
const GatewayName = "gateway"

// GatewayAdapter is the hardware gateway surface the orchestrator needs.
type GatewayAdapter interface {
	Connect(ctx context.Context, creds domain.GatewayCredentials) error
	Authenticate(ctx context.Context, creds domain.GatewayCredentials) (string, error)
	SendMessage(ctx context.Context, creds domain.GatewayCredentials, sessionID int, recipient, body string, subChannel int) (*gateway.SendResult, error)
	ProbeStatus(ctx context.Context, creds domain.GatewayCredentials, sessionID int, messageID string) (*gateway.StatusResult, error)
	ProbeInventory(ctx context.Context, creds domain.GatewayCredentials, token string) (*gateway.InventoryResult, error)
}

// QueuePublisher is the broker surface used for fire-and-forget bulk jobs.
type QueuePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Orchestrator routes dispatch requests to backends, applying the configured
// fallback order when the primary fails.
type Orchestrator struct {
	logger          *slog.Logger
	providers       *provider.Registry
	gatewayAdapter  GatewayAdapter
	gatewayCreds    domain.GatewayCredentials
	templates       domain.TemplateResolver
	groups          domain.GroupResolver
	records         domain.RecordStore
	queue           QueuePublisher
	defaultProvider string
	enableFallback  bool
	fallbackOrder   []string
}

// OrchestratorConfig wires the orchestrator's collaborators. Records and
// Queue may be nil; persistence is best-effort and bulk queueing then
// reports an error per request.
type OrchestratorConfig struct {
	Providers       *provider.Registry
	GatewayAdapter  GatewayAdapter
	GatewayCreds    domain.GatewayCredentials
	Templates       domain.TemplateResolver
	Groups          domain.GroupResolver
	Records         domain.RecordStore
	Queue           QueuePublisher
	DefaultProvider string
	EnableFallback  bool
	FallbackOrder   []string
}

func NewOrchestrator(logger *slog.Logger, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		logger:          logger.With("component", "orchestrator"),
		providers:       cfg.Providers,
		gatewayAdapter:  cfg.GatewayAdapter,
		gatewayCreds:    cfg.GatewayCreds,
		templates:       cfg.Templates,
		groups:          cfg.Groups,
		records:         cfg.Records,
		queue:           cfg.Queue,
		defaultProvider: cfg.DefaultProvider,
		enableFallback:  cfg.EnableFallback,
		fallbackOrder:   cfg.FallbackOrder,
	}
}

// Dispatch sends one message. Template resolution happens before any backend
// is contacted; a missing template aborts the whole dispatch. The returned
// record reflects the final state even when every backend failed.
func (o *Orchestrator) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DeliveryRecord, error) {
	message := req.Message
	if req.TemplateID != "" {
		resolved, err := o.templates.Resolve(ctx, req.TemplateID, req.TemplateVariables)
		if err != nil {
			return nil, err
		}
		message = resolved
	}
	if message == "" {
		return nil, fmt.Errorf("dispatch request has neither message nor template")
	}

	chain := o.backendChain(req.Provider)
	record := domain.NewOutboundRecord(req.Recipient, message, chain[0])
	if req.TemplateID != "" {
		templateID := req.TemplateID
		record.TemplateID = &templateID
	}

	var lastErr error
	for i, name := range chain {
		if i > 0 {
			fallbacksTotal.Inc()
			o.logger.InfoContext(ctx, "falling back to next backend",
				"backend", name, "attempt", i+1, "recipient", req.Recipient)
		}

		start := time.Now()
		err := o.attempt(ctx, name, req, message, record)
		dispatchDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err == nil {
			dispatchAttemptsTotal.WithLabelValues(name, "success").Inc()
			record.Provider = name
			o.saveRecord(ctx, record)
			return record, nil
		}

		dispatchAttemptsTotal.WithLabelValues(name, "failure").Inc()
		o.logger.WarnContext(ctx, "backend attempt failed",
			"backend", name, "recipient", req.Recipient, "error", err)
		// The failed record names the backend that produced the final error.
		record.Provider = name
		lastErr = err
	}

	record.MarkFailed(lastErr.Error())
	o.saveRecord(ctx, record)
	return record, fmt.Errorf("%w: last backend error: %v", domain.ErrAllProvidersFailed, lastErr)
}

// backendChain returns the ordered backend names to try: the explicit or
// default choice first, then the configured fallback order minus backends
// already in the chain.
func (o *Orchestrator) backendChain(explicit string) []string {
	first := explicit
	if first == "" {
		first = o.defaultProvider
	}
	chain := []string{first}
	if !o.enableFallback {
		return chain
	}

	seen := map[string]bool{first: true}
	for _, name := range o.fallbackOrder {
		if seen[name] {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
	}
	return chain
}

func (o *Orchestrator) attempt(ctx context.Context, name string, req domain.DispatchRequest, message string, record *domain.DeliveryRecord) error {
	if name == GatewayName {
		return o.attemptGateway(ctx, req, message, record)
	}

	backend, err := o.providers.Get(name)
	if err != nil {
		return err
	}
	if err := backend.ValidateConfig(); err != nil {
		return err
	}

	receipt, err := backend.Send(ctx, req.Recipient, message)
	if err != nil {
		return err
	}

	record.MarkSent(receipt.ProviderMessageID)
	cost := receipt.Cost.Amount
	currency := receipt.Cost.Currency
	record.Cost = &cost
	record.Currency = &currency
	return nil
}

func (o *Orchestrator) attemptGateway(ctx context.Context, req domain.DispatchRequest, message string, record *domain.DeliveryRecord) error {
	subChannel := 0
	if req.SubChannel != nil {
		subChannel = *req.SubChannel
	}
	sessionID := domain.NewSessionID()

	result, err := o.gatewayAdapter.SendMessage(ctx, o.gatewayCreds, sessionID, req.Recipient, message, subChannel)
	if err != nil {
		return err
	}

	record.MarkSent(result.MessageID)
	record.SessionID = &sessionID
	record.SubChannel = &subChannel
	return nil
}

func (o *Orchestrator) saveRecord(ctx context.Context, record *domain.DeliveryRecord) {
	if o.records == nil {
		return
	}
	if err := o.records.Save(ctx, record); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist delivery record",
			"record_id", record.ID, "error", err)
	}
}

// RecordInbound logs a received message. Persistence failures surface to the
// caller so the webhook can signal a retry to the sender.
func (o *Orchestrator) RecordInbound(ctx context.Context, sender, message, providerName string, receivedAt time.Time) (*domain.DeliveryRecord, error) {
	record := domain.NewInboundRecord(sender, message, providerName, receivedAt)
	if o.records != nil {
		if err := o.records.Save(ctx, record); err != nil {
			return nil, fmt.Errorf("persisting inbound record: %w", err)
		}
	}
	o.logger.InfoContext(ctx, "inbound message recorded",
		"record_id", record.ID, "sender", sender, "provider", providerName)
	return record, nil
}

// GatewayConnect diagnoses reachability of the configured hardware gateway.
func (o *Orchestrator) GatewayConnect(ctx context.Context) error {
	err := o.gatewayAdapter.Connect(ctx, o.gatewayCreds)
	if err != nil {
		gatewayProbesTotal.WithLabelValues("connect", "failure").Inc()
		return err
	}
	gatewayProbesTotal.WithLabelValues("connect", "success").Inc()
	return nil
}

// GatewayInventory retrieves the SIM-slot inventory. Authentication is best
// effort: some firmwares serve the inventory on credentials alone, so a
// failed login downgrades to an unauthenticated probe instead of aborting.
func (o *Orchestrator) GatewayInventory(ctx context.Context) (*gateway.InventoryResult, error) {
	token, err := o.gatewayAdapter.Authenticate(ctx, o.gatewayCreds)
	if err != nil {
		o.logger.WarnContext(ctx, "gateway login failed, probing without token", "error", err)
		token = ""
	}

	result, err := o.gatewayAdapter.ProbeInventory(ctx, o.gatewayCreds, token)
	if err != nil {
		gatewayProbesTotal.WithLabelValues("inventory", "failure").Inc()
		return nil, err
	}
	outcome := "unavailable"
	if result.Available {
		outcome = "success"
	}
	gatewayProbesTotal.WithLabelValues("inventory", outcome).Inc()
	return result, nil
}

// GatewayStatus probes the delivery state for a gateway session and folds a
// definite answer back into the stored record when one exists.
func (o *Orchestrator) GatewayStatus(ctx context.Context, sessionID int, messageID string) (*gateway.StatusResult, error) {
	result, err := o.gatewayAdapter.ProbeStatus(ctx, o.gatewayCreds, sessionID, messageID)
	if err != nil {
		gatewayProbesTotal.WithLabelValues("status", "failure").Inc()
		return nil, err
	}

	if !result.Known {
		gatewayProbesTotal.WithLabelValues("status", "unknown").Inc()
		return result, nil
	}
	gatewayProbesTotal.WithLabelValues("status", "success").Inc()

	if o.records != nil {
		record, err := o.records.LoadBySession(ctx, sessionID)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to load record for session",
				"session_id", sessionID, "error", err)
		} else if record != nil {
			record.ApplyStatus(result.DeliveryStatus, "")
			o.saveRecord(ctx, record)
		}
	}
	return result, nil
}
