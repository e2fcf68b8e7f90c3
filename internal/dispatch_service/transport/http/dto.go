package http

import (
	"time"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

// SendMessageRequest DTO for POST /messages/send
type SendMessageRequest struct {
	Recipient         string            `json:"recipient" validate:"required,e164"`
	Message           string            `json:"message" validate:"required_without=TemplateID"`
	TemplateID        string            `json:"template_id,omitempty"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
	Provider          string            `json:"provider,omitempty" validate:"omitempty,oneof=twilio vonage aws_sns gateway"`
	SubChannel        *int              `json:"sub_channel,omitempty" validate:"omitempty,min=0,max=31"`
}

// SendMessageResponse DTO
type SendMessageResponse struct {
	RecordID          string                `json:"record_id"`
	Status            domain.DeliveryStatus `json:"status"`
	Provider          string                `json:"provider"`
	Recipient         string                `json:"recipient"`
	ProviderMessageID *string               `json:"provider_message_id,omitempty"`
	SessionID         *int                  `json:"session_id,omitempty"`
	Cost              *float64              `json:"cost,omitempty"`
	Currency          *string               `json:"currency,omitempty"`
	ErrorMessage      *string               `json:"error_message,omitempty"`
}

// BulkSendRequest DTO for POST /messages/bulk
type BulkSendRequest struct {
	Recipients        []string          `json:"recipients,omitempty" validate:"omitempty,dive,e164"`
	GroupIDs          []string          `json:"group_ids,omitempty"`
	Message           string            `json:"message" validate:"required_without=TemplateID"`
	TemplateID        string            `json:"template_id,omitempty"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
	Provider          string            `json:"provider,omitempty" validate:"omitempty,oneof=twilio vonage aws_sns gateway"`
}

// BulkSendResponse DTO
type BulkSendResponse struct {
	CampaignID    string           `json:"campaign_id"`
	Queued        int              `json:"queued"`
	Failed        int              `json:"failed"`
	EstimatedCost *CostEstimateDTO `json:"estimated_cost,omitempty"`
}

type CostEstimateDTO struct {
	Segments   int     `json:"segments"`
	Recipients int     `json:"recipients"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
}

// InboundMessageRequest DTO for POST /messages/incoming webhooks. The field
// names are fixed by the senders' wire contract.
type InboundMessageRequest struct {
	Sender    string     `json:"sender" validate:"required"`
	Message   string     `json:"message" validate:"required"`
	Provider  string     `json:"provider,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// InboundMessageResponse DTO
type InboundMessageResponse struct {
	RecordID string `json:"record_id"`
}

// GatewayConnectResponse DTO for POST /gateway/connect
type GatewayConnectResponse struct {
	Reachable bool   `json:"reachable"`
	Detail    string `json:"detail,omitempty"`
}

// GatewayInventoryResponse DTO for GET /gateway/inventory
type GatewayInventoryResponse struct {
	Available bool                   `json:"available"`
	Endpoint  string                 `json:"endpoint,omitempty"`
	Channels  []domain.ChannelStatus `json:"channels"`
}

// GatewayStatusResponse DTO for GET /gateway/status/{sessionID}
type GatewayStatusResponse struct {
	Known          bool                  `json:"known"`
	Endpoint       string                `json:"endpoint,omitempty"`
	RawStatus      string                `json:"raw_status,omitempty"`
	DeliveryStatus domain.DeliveryStatus `json:"delivery_status,omitempty"`
}

type GenericErrorResponse struct {
	Error string `json:"error"`
}
