package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the dispatch core. Send-path errors surface immediately
// with full classification so fallback logic can act on them. Status and
// inventory probing never surface these directly; exhausted probes produce
// indeterminate results instead (see gateway.StatusResult / InventoryResult).
var (
	// ErrUnreachable means the network connection itself failed.
	ErrUnreachable = errors.New("backend unreachable")
	// ErrTimeout means the per-attempt deadline expired.
	ErrTimeout = errors.New("request timed out")
	// ErrConnectionRefused means the host actively refused the connection.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrTLSFailure means the TLS handshake or certificate check failed.
	ErrTLSFailure = errors.New("tls certificate failure")
	// ErrAuthenticationFailed means the backend refused our credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrEndpointNotFound means the backend answered but the path does not exist.
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrProtocol means the response body could not be parsed at all.
	ErrProtocol = errors.New("unparseable backend response")
	// ErrRejected means the backend understood the request and declined it.
	ErrRejected = errors.New("rejected by backend")
	// ErrMisconfiguredProvider means local config validation failed; no
	// network call was attempted.
	ErrMisconfiguredProvider = errors.New("provider misconfigured")
	// ErrTemplateNotFound means the referenced template id is unknown.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrProviderNotFound means the requested backend name is not registered.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrAllProvidersFailed means the chosen provider and every fallback failed.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// RejectionError retains the raw vendor code and message of a declined
// request for operator diagnosis. errors.Is(err, ErrRejected) matches it.
type RejectionError struct {
	Provider string
	Code     int
	Message  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected request: code %d: %s", e.Provider, e.Code, e.Message)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}
