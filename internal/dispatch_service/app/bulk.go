package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/provider"
)

// BulkJobsSubject carries the per-recipient dispatch jobs produced by bulk
// requests.
const BulkJobsSubject = "dispatch.jobs.bulk"

// BulkRequest targets explicit recipients, contact groups, or both.
type BulkRequest struct {
	Recipients        []string          `json:"recipients,omitempty"`
	GroupIDs          []string          `json:"group_ids,omitempty"`
	Message           string            `json:"message,omitempty"`
	TemplateID        string            `json:"template_id,omitempty"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
	Provider          string            `json:"provider,omitempty"`
}

// BulkReceipt summarizes what was queued. EstimatedCost is a projection for
// the primary backend; fallback sends may bill differently.
type BulkReceipt struct {
	CampaignID    string                 `json:"campaign_id"`
	Queued        int                    `json:"queued"`
	Failed        int                    `json:"failed"`
	EstimatedCost *provider.CostEstimate `json:"estimated_cost,omitempty"`
}

// bulkJob is the queued unit of work: one recipient of one campaign.
type bulkJob struct {
	CampaignID string                 `json:"campaign_id"`
	Request    domain.DispatchRequest `json:"request"`
}

// BulkDispatch expands groups, deduplicates the recipient union and queues
// one dispatch job per recipient. Queueing is fire-and-forget: the caller
// gets counts, not delivery outcomes. The template resolves once up front so
// a bad template id fails the request before anything is queued.
func (o *Orchestrator) BulkDispatch(ctx context.Context, req BulkRequest) (*BulkReceipt, error) {
	if o.queue == nil {
		return nil, fmt.Errorf("bulk dispatch is not configured: no queue")
	}

	message := req.Message
	if req.TemplateID != "" {
		resolved, err := o.templates.Resolve(ctx, req.TemplateID, req.TemplateVariables)
		if err != nil {
			return nil, err
		}
		message = resolved
	}
	if message == "" {
		return nil, fmt.Errorf("bulk request has neither message nor template")
	}

	recipients := req.Recipients
	if len(req.GroupIDs) > 0 && o.groups != nil {
		expanded, err := o.groups.Expand(ctx, req.GroupIDs)
		if err != nil {
			return nil, fmt.Errorf("expanding groups: %w", err)
		}
		recipients = append(append([]string(nil), recipients...), expanded...)
	}
	recipients = dedupeRecipients(recipients)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("bulk request resolved to zero recipients")
	}

	backendName := req.Provider
	if backendName == "" {
		backendName = o.defaultProvider
	}
	var backend provider.Provider
	if backendName != GatewayName {
		var err error
		backend, err = o.providers.Get(backendName)
		if err != nil {
			return nil, err
		}
		if limit := backend.Limits().MaxRecipients; len(recipients) > limit {
			return nil, fmt.Errorf("bulk request has %d recipients, %s accepts at most %d per batch",
				len(recipients), backendName, limit)
		}
	}

	receipt := &BulkReceipt{CampaignID: uuid.New().String()}
	for _, recipient := range recipients {
		job := bulkJob{
			CampaignID: receipt.CampaignID,
			Request: domain.DispatchRequest{
				Recipient: recipient,
				Message:   message,
				Provider:  req.Provider,
			},
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("encoding bulk job: %w", err)
		}
		if err := o.queue.Publish(ctx, BulkJobsSubject, payload); err != nil {
			receipt.Failed++
			o.logger.ErrorContext(ctx, "failed to queue bulk job",
				"recipient", recipient, "error", err)
			continue
		}
		receipt.Queued++
	}
	bulkRecipientsQueuedTotal.Add(float64(receipt.Queued))

	if backend != nil {
		cost := backend.EstimateCost(message, len(recipients))
		receipt.EstimatedCost = &cost
	}

	o.logger.InfoContext(ctx, "bulk dispatch queued", "campaign_id", receipt.CampaignID,
		"recipients", len(recipients), "queued", receipt.Queued, "failed", receipt.Failed)
	return receipt, nil
}

// dedupeRecipients drops repeated addresses, keeping first-seen order.
func dedupeRecipients(recipients []string) []string {
	seen := make(map[string]bool, len(recipients))
	unique := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		unique = append(unique, r)
	}
	return unique
}
