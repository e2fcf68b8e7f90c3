package domain

import "context"

// TemplateResolver resolves a template id plus variables into message text.
// Substitution syntax is {{variableName}}. Unknown ids fail with
// ErrTemplateNotFound; a missing template is never sent as literal
// placeholder text.
type TemplateResolver interface {
	Resolve(ctx context.Context, templateID string, variables map[string]string) (string, error)
}

// GroupResolver expands contact-group ids into recipient addresses.
type GroupResolver interface {
	Expand(ctx context.Context, groupIDs []string) ([]string, error)
}

// RecordStore persists delivery records. The core calls it best-effort: store
// unavailability must never block a dispatch's own return to the caller.
type RecordStore interface {
	Save(ctx context.Context, record *DeliveryRecord) error
	// LoadBySession returns the record correlated with a gateway session id,
	// or nil if none is known.
	LoadBySession(ctx context.Context, sessionID int) (*DeliveryRecord, error)
}
