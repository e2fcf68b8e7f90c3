// Package provider contains the carrier backend clients. All backends sit
// behind one interface so the dispatch core can route and fall back without
// caring which wire protocol is underneath.
package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

// Canonical backend names used in configuration and dispatch requests.
const (
	NameTwilio = "twilio"
	NameVonage = "vonage"
	NameAWSSNS = "aws_sns"
)

const segmentChars = 160

// Limits describes a backend's accepted message size and throughput.
type Limits struct {
	MaxMessageChars   int
	MaxRecipients     int
	RequestsPerSecond int
}

// CostEstimate is a pre-send projection, not a billing record. Amount is
// denominated in the backend's own currency.
type CostEstimate struct {
	Segments   int
	Recipients int
	Amount     float64
	Currency   string
}

// SendReceipt is the successful outcome of one send call.
type SendReceipt struct {
	ProviderMessageID string
	Segments          int
	Cost              CostEstimate
}

// Provider is the uniform carrier backend contract. ValidateConfig runs
// locally and must pass before any network call; Send and MessageStatus
// return the shared error taxonomy.
type Provider interface {
	Name() string
	ValidateConfig() error
	Send(ctx context.Context, recipient, body string) (*SendReceipt, error)
	MessageStatus(ctx context.Context, providerMessageID string) (domain.DeliveryStatus, error)
	Limits() Limits
	EstimateCost(body string, recipients int) CostEstimate
}

// segmentCount follows GSM-7 segmentation at 160 characters per segment.
func segmentCount(body string) int {
	if body == "" {
		return 0
	}
	return (len(body) + segmentChars - 1) / segmentChars
}

// estimate computes segments times recipients times the backend's per-segment
// rate.
func estimate(body string, recipients int, ratePerSegment float64, currency string) CostEstimate {
	segments := segmentCount(body)
	return CostEstimate{
		Segments:   segments,
		Recipients: recipients,
		Amount:     float64(segments*recipients) * ratePerSegment,
		Currency:   currency,
	}
}

// Registry holds the configured backends by canonical name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named backend or ErrProviderNotFound.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// Names lists the registered backends in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
