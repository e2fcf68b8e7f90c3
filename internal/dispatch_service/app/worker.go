package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

// bulkQueueGroup makes worker replicas share the job stream instead of each
// receiving every job.
const bulkQueueGroup = "dispatch-workers"

// JobSubscriber is the broker surface the worker consumes from.
type JobSubscriber interface {
	Subscribe(ctx context.Context, subject, queueGroup string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// BulkWorker drains queued bulk jobs through the orchestrator. One failed
// job never stops the stream; the failure is already recorded on its
// delivery record.
type BulkWorker struct {
	logger       *slog.Logger
	orchestrator *Orchestrator
	subscriber   JobSubscriber
	pace         *pacer
}

func NewBulkWorker(logger *slog.Logger, orchestrator *Orchestrator, subscriber JobSubscriber) *BulkWorker {
	return &BulkWorker{
		logger:       logger.With("component", "bulk_worker"),
		orchestrator: orchestrator,
		subscriber:   subscriber,
		pace:         newPacer(),
	}
}

// Run subscribes and processes jobs until the context is cancelled.
func (w *BulkWorker) Run(ctx context.Context) error {
	sub, err := w.subscriber.Subscribe(ctx, BulkJobsSubject, bulkQueueGroup, func(msg *nats.Msg) {
		w.handle(ctx, msg.Data)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	w.logger.InfoContext(ctx, "bulk worker started", "subject", BulkJobsSubject, "queue_group", bulkQueueGroup)
	<-ctx.Done()
	w.logger.InfoContext(ctx, "bulk worker stopping")
	return nil
}

func (w *BulkWorker) handle(ctx context.Context, payload []byte) {
	var job bulkJob
	if err := json.Unmarshal(payload, &job); err != nil {
		w.logger.ErrorContext(ctx, "dropping malformed bulk job", "error", err)
		return
	}

	if delay := w.pace.reserve(w.sendRate(job.Request)); delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	record, err := w.orchestrator.Dispatch(ctx, job.Request)
	if err != nil {
		w.logger.WarnContext(ctx, "bulk job dispatch failed",
			"campaign_id", job.CampaignID, "recipient", job.Request.Recipient, "error", err)
		return
	}
	w.logger.InfoContext(ctx, "bulk job dispatched", "campaign_id", job.CampaignID,
		"recipient", job.Request.Recipient, "record_id", record.ID, "provider", record.Provider)
}

// sendRate resolves the backend a job hits first and its requests-per-second
// ceiling. Gateway dispatches and unknown backends are unpaced; the latter
// fail inside Dispatch anyway.
func (w *BulkWorker) sendRate(req domain.DispatchRequest) (string, int) {
	name := req.Provider
	if name == "" {
		name = w.orchestrator.defaultProvider
	}
	if name == GatewayName {
		return name, 0
	}
	backend, err := w.orchestrator.providers.Get(name)
	if err != nil {
		return name, 0
	}
	return name, backend.Limits().RequestsPerSecond
}

// pacer spaces sends per backend so a drained job queue stays under each
// carrier's request ceiling.
type pacer struct {
	mu   sync.Mutex
	now  func() time.Time
	next map[string]time.Time
}

func newPacer() *pacer {
	return &pacer{now: time.Now, next: make(map[string]time.Time)}
}

// reserve claims the next send slot for the named backend and returns how
// long the caller must wait before using it. A non-positive ceiling disables
// pacing.
func (p *pacer) reserve(backend string, perSecond int) time.Duration {
	if perSecond <= 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	interval := time.Second / time.Duration(perSecond)
	now := p.now()
	at := p.next[backend]
	if at.Before(now) {
		at = now
	}
	p.next[backend] = at.Add(interval)
	return at.Sub(now)
}
