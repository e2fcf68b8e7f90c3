package domain

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes sent messages from received ones.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// DeliveryStatus defines the canonical states of a dispatched message.
// Every backend-specific status code must be mapped onto one of these;
// unmapped codes default to StatusFailed, never to a success state.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusExpired   DeliveryStatus = "expired"
	StatusReceived  DeliveryStatus = "received"
)

// DispatchRequest describes one message-send operation. Immutable once
// submitted to the orchestrator.
type DispatchRequest struct {
	Recipient         string            `json:"recipient"`
	Message           string            `json:"message"`
	TemplateID        string            `json:"template_id,omitempty"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
	// Provider optionally forces a backend ("twilio", "vonage", "aws_sns",
	// "gateway"); empty means the configured default.
	Provider string `json:"provider,omitempty"`
	// SubChannel selects a hardware-gateway SIM slot (zero-based). Only
	// meaningful for gateway dispatches.
	SubChannel *int `json:"sub_channel,omitempty"`
}

// DeliveryRecord is the canonical log entry for one message, outbound or
// inbound. Status updates overwrite in place; there is no transition history.
type DeliveryRecord struct {
	ID                string         `json:"id"`
	Direction         Direction      `json:"direction"`
	Recipient         string         `json:"recipient,omitempty"`
	Sender            string         `json:"sender,omitempty"`
	Message           string         `json:"message"`
	Provider          string         `json:"provider"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
	Status            DeliveryStatus `json:"status"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	TemplateID        *string        `json:"template_id,omitempty"`
	Cost              *float64       `json:"cost,omitempty"`
	Currency          *string        `json:"currency,omitempty"`
	SubChannel        *int           `json:"sub_channel,omitempty"`
	// SessionID correlates a hardware-gateway send with later status probes.
	// Only set for gateway dispatches.
	SessionID   *int       `json:"session_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewOutboundRecord creates a DeliveryRecord for a send attempt.
func NewOutboundRecord(recipient, message, provider string) *DeliveryRecord {
	now := time.Now().UTC()
	return &DeliveryRecord{
		ID:        uuid.New().String(),
		Direction: DirectionOutbound,
		Recipient: recipient,
		Message:   message,
		Provider:  provider,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewInboundRecord creates a DeliveryRecord for a received message.
func NewInboundRecord(sender, message, provider string, receivedAt time.Time) *DeliveryRecord {
	now := time.Now().UTC()
	if receivedAt.IsZero() {
		receivedAt = now
	}
	return &DeliveryRecord{
		ID:         uuid.New().String(),
		Direction:  DirectionInbound,
		Sender:     sender,
		Message:    message,
		Provider:   provider,
		Status:     StatusReceived,
		ReceivedAt: &receivedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MarkSent records a successful submission.
func (r *DeliveryRecord) MarkSent(providerMessageID string) {
	now := time.Now().UTC()
	r.Status = StatusSent
	if providerMessageID != "" {
		r.ProviderMessageID = &providerMessageID
	}
	r.SentAt = &now
	r.UpdatedAt = now
}

// MarkFailed records a failed submission with its error detail.
func (r *DeliveryRecord) MarkFailed(errMsg string) {
	now := time.Now().UTC()
	r.Status = StatusFailed
	if errMsg != "" {
		r.ErrorMessage = &errMsg
	}
	r.FailedAt = &now
	r.UpdatedAt = now
}

// ApplyStatus overwrites the record's status from a later status check.
func (r *DeliveryRecord) ApplyStatus(status DeliveryStatus, errMsg string) {
	now := time.Now().UTC()
	r.Status = status
	switch status {
	case StatusDelivered:
		r.DeliveredAt = &now
	case StatusFailed, StatusExpired:
		r.FailedAt = &now
	}
	if errMsg != "" {
		r.ErrorMessage = &errMsg
	}
	r.UpdatedAt = now
}

const (
	sessionIDMin = 1000
	sessionIDMax = 9999
)

// NewSessionID mints a correlation session id for a hardware-gateway send.
// The range holds only 9000 values and there is no collision detection;
// callers must tolerate reuse across in-flight sends. This is a known
// limitation of the gateway protocol, which offers no other correlation
// handle.
func NewSessionID() int {
	return sessionIDMin + rand.Intn(sessionIDMax-sessionIDMin+1)
}
