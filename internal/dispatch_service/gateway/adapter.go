// Package gateway implements the HTTP protocol adapter for Dinstar-class
// GSM gateway hardware. Firmware versions disagree on endpoint paths and
// request encodings, so status and inventory operations probe an ordered
// candidate list instead of assuming a single contract.
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/normalizer"
)

// Per-operation deadlines. Status and inventory deadlines apply to each
// candidate attempt individually, not to the whole probe.
const (
	reachabilityTimeout     = 10 * time.Second
	authTimeout             = 15 * time.Second
	sendTimeout             = 30 * time.Second
	statusAttemptTimeout    = 15 * time.Second
	inventoryAttemptTimeout = 10 * time.Second
	maxResponseBodyBytes    = 1 << 20
)

// tokenPattern extracts a session token from non-JSON login responses.
var tokenPattern = regexp.MustCompile(`(?i)token["\s]*[:=]["\s]*([^"'\s,}]+)`)

// Adapter speaks the gateway's HTTP dialect. Safe for concurrent use.
type Adapter struct {
	logger             *slog.Logger
	httpClient         *http.Client
	statusEndpoints    []string
	inventoryEndpoints []string
}

// NewAdapter builds an Adapter. Nil endpoint lists select the built-in
// candidates; the HTTP client must not carry its own timeout because each
// operation sets a context deadline.
func NewAdapter(logger *slog.Logger, httpClient *http.Client, statusEndpoints, inventoryEndpoints []string) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if len(statusEndpoints) == 0 {
		statusEndpoints = defaultStatusEndpoints
	}
	if len(inventoryEndpoints) == 0 {
		inventoryEndpoints = defaultInventoryEndpoints
	}
	return &Adapter{
		logger:             logger.With("component", "gateway_adapter"),
		httpClient:         httpClient,
		statusEndpoints:    statusEndpoints,
		inventoryEndpoints: inventoryEndpoints,
	}
}

// SendResult is the outcome of a send attempt that got a classifiable answer.
type SendResult struct {
	Accepted      bool
	MessageID     string
	VendorCode    int
	VendorMessage string
}

// StatusResult is the outcome of a status probe. Known=false means every
// candidate endpoint was exhausted without a usable answer; that is a valid
// result, not an error.
type StatusResult struct {
	Known          bool
	Endpoint       string
	RawStatus      string
	DeliveryStatus domain.DeliveryStatus
}

// InventoryResult is the outcome of an inventory probe. Available=false means
// no endpoint/shape combination produced a parseable channel report.
type InventoryResult struct {
	Available bool
	Endpoint  string
	Channels  []domain.ChannelStatus
}

// Connect checks basic reachability of the gateway. 200, 401 and 403 all
// prove a listener is there (auth comes later); transport failures are
// classified into timeout, refused and TLS so operators can tell a powered-off
// device from a certificate problem.
func (a *Adapter) Connect(ctx context.Context, creds domain.GatewayCredentials) error {
	ctx, cancel := context.WithTimeout(ctx, reachabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(creds), nil)
	if err != nil {
		return fmt.Errorf("building reachability request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyBytes))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		a.logger.InfoContext(ctx, "gateway reachable", "base_url", baseURL(creds), "status_code", resp.StatusCode)
		return nil
	default:
		return fmt.Errorf("gateway responded with unexpected status %d", resp.StatusCode)
	}
}

// Authenticate performs the form login and returns a session token. Firmwares
// answer with JSON, with a bare token string, or with nothing useful at all;
// a 2xx with no extractable token still counts as a login, with a synthetic
// token standing in.
func (a *Adapter) Authenticate(ctx context.Context, creds domain.GatewayCredentials) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(creds, "/api/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return "", fmt.Errorf("reading login response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: login returned status %d", domain.ErrAuthenticationFailed, resp.StatusCode)
	}

	var parsed struct {
		Result  string `json:"result"`
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Token != "" {
			return parsed.Token, nil
		}
		if strings.EqualFold(parsed.Result, "ok") || parsed.Success {
			return "session-token", nil
		}
		return "", fmt.Errorf("%w: login answered without token or success flag", domain.ErrAuthenticationFailed)
	}

	// Non-JSON body. Some firmwares print the token inline.
	text := string(body)
	if match := tokenPattern.FindStringSubmatch(text); match != nil {
		return match[1], nil
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "token") || strings.Contains(lower, "success") {
		return "extracted-token", nil
	}
	return "", fmt.Errorf("%w: unrecognized login response", domain.ErrAuthenticationFailed)
}

type sendParam struct {
	Number string `json:"number"`
	UserID int    `json:"user_id"`
	SN     string `json:"sn"`
}

type sendPayload struct {
	Text  string      `json:"text"`
	Port  []int       `json:"port"`
	Param []sendParam `json:"param"`
}

type gatewayResponse struct {
	ErrorCode int             `json:"error_code"`
	ErrorMsg  string          `json:"error_msg"`
	Result    string          `json:"result"`
	MessageID json.RawMessage `json:"message_id"`
	SN        string          `json:"sn"`
}

// SendMessage submits one message on one channel. sessionID correlates the
// request with later status probes and travels as the wire user_id.
func (a *Adapter) SendMessage(ctx context.Context, creds domain.GatewayCredentials, sessionID int, recipient, body string, subChannel int) (*SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	payload := sendPayload{
		Text: body,
		Port: []int{subChannel},
		Param: []sendParam{{
			Number: recipient,
			UserID: sessionID,
			SN:     creds.SerialNumber,
		}},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(creds, "/api/send_sms"), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(creds.Username, creds.Password)

	a.logger.InfoContext(ctx, "sending message via gateway",
		"recipient", recipient, "sub_channel", subChannel, "session_id", sessionID)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading send response: %w", err)
	}

	if looksLikeHTML(raw) {
		return nil, classifyHTMLError(raw)
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtocol, truncate(raw, 200))
	}

	if parsed.ErrorCode == 202 {
		result := &SendResult{
			Accepted:   true,
			MessageID:  rawMessageID(parsed.MessageID),
			VendorCode: parsed.ErrorCode,
		}
		a.logger.InfoContext(ctx, "gateway accepted message",
			"session_id", sessionID, "message_id", result.MessageID)
		return result, nil
	}

	rejection := &domain.RejectionError{
		Provider: "gateway",
		Code:     parsed.ErrorCode,
		Message:  parsed.ErrorMsg,
	}
	a.logger.WarnContext(ctx, "gateway rejected message",
		"session_id", sessionID, "vendor_code", parsed.ErrorCode, "vendor_msg", parsed.ErrorMsg)
	return &SendResult{
		Accepted:      false,
		VendorCode:    parsed.ErrorCode,
		VendorMessage: parsed.ErrorMsg,
	}, rejection
}

// gatewayStatusValues maps the gateway's delivery_status vocabulary onto the
// canonical states. Unlisted raw values stay pending until a later probe
// settles them.
var gatewayStatusValues = map[string]domain.DeliveryStatus{
	"pending":   domain.StatusPending,
	"sent":      domain.StatusSent,
	"delivered": domain.StatusDelivered,
	"failed":    domain.StatusFailed,
	"expired":   domain.StatusExpired,
}

// ProbeStatus asks the candidate status endpoints in order for the delivery
// state of a previously sent message. The first endpoint that answers with
// error_code 200 or result "ok" wins; exhausting all candidates yields
// Known=false rather than an error.
func (a *Adapter) ProbeStatus(ctx context.Context, creds domain.GatewayCredentials, sessionID int, messageID string) (*StatusResult, error) {
	query := map[string]any{
		"user_id": sessionID,
		"sn":      creds.SerialNumber,
	}
	if messageID != "" {
		query["message_id"] = messageID
	}
	encoded, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encoding status query: %w", err)
	}

	for _, path := range a.statusEndpoints {
		result, oc := a.statusAttempt(ctx, creds, path, encoded)
		switch oc {
		case outcomeSuccess:
			a.logger.InfoContext(ctx, "status probe answered",
				"endpoint", path, "session_id", sessionID, "delivery_status", result.DeliveryStatus)
			return result, nil
		case outcomeFatal:
			return nil, ctx.Err()
		}
	}

	a.logger.InfoContext(ctx, "status probe exhausted all endpoints", "session_id", sessionID)
	return &StatusResult{Known: false}, nil
}

func (a *Adapter) statusAttempt(ctx context.Context, creds domain.GatewayCredentials, path string, query []byte) (*StatusResult, outcome) {
	if ctx.Err() != nil {
		return nil, outcomeFatal
	}
	attemptCtx, cancel := context.WithTimeout(ctx, statusAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpointURL(creds, path), bytes.NewReader(query))
	if err != nil {
		return nil, outcomeRetry
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(creds.Username, creds.Password)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, outcomeFatal
		}
		a.logger.DebugContext(ctx, "status candidate failed", "endpoint", path, "error", err)
		return nil, outcomeRetry
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil || looksLikeHTML(raw) {
		return nil, outcomeRetry
	}

	var parsed struct {
		gatewayResponse
		Status         string `json:"status"`
		DeliveryStatus string `json:"delivery_status"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, outcomeRetry
	}
	if parsed.ErrorCode != 200 && !strings.EqualFold(parsed.Result, "ok") {
		return nil, outcomeRetry
	}

	delivery, ok := gatewayStatusValues[strings.ToLower(parsed.DeliveryStatus)]
	if !ok {
		delivery = domain.StatusPending
	}
	return &StatusResult{
		Known:          true,
		Endpoint:       path,
		RawStatus:      parsed.Status,
		DeliveryStatus: delivery,
	}, outcomeSuccess
}

// ProbeInventory walks candidate endpoints crossed with request shapes to
// retrieve the per-channel SIM inventory. The first combination that yields a
// channel report wins; exhaustion yields Available=false.
func (a *Adapter) ProbeInventory(ctx context.Context, creds domain.GatewayCredentials, token string) (*InventoryResult, error) {
	for _, cand := range inventoryCandidates(a.inventoryEndpoints) {
		result, oc := a.inventoryAttempt(ctx, creds, token, cand)
		switch oc {
		case outcomeSuccess:
			a.logger.InfoContext(ctx, "inventory probe answered",
				"endpoint", cand.path, "shape", cand.shape.String(), "channels", len(result.Channels))
			return result, nil
		case outcomeFatal:
			return nil, ctx.Err()
		}
	}

	a.logger.InfoContext(ctx, "inventory probe exhausted all candidates")
	return &InventoryResult{Available: false}, nil
}

func (a *Adapter) inventoryAttempt(ctx context.Context, creds domain.GatewayCredentials, token string, cand candidate) (*InventoryResult, outcome) {
	if ctx.Err() != nil {
		return nil, outcomeFatal
	}
	attemptCtx, cancel := context.WithTimeout(ctx, inventoryAttemptTimeout)
	defer cancel()

	req, err := a.inventoryRequest(attemptCtx, creds, token, cand)
	if err != nil {
		return nil, outcomeRetry
	}
	req.SetBasicAuth(creds.Username, creds.Password)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, outcomeFatal
		}
		a.logger.DebugContext(ctx, "inventory candidate failed",
			"endpoint", cand.path, "shape", cand.shape.String(), "error", err)
		return nil, outcomeRetry
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, outcomeRetry
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, outcomeRetry
	}
	if looksLikeHTML(raw) {
		return nil, outcomeRetry
	}

	payload := normalizer.ParseBody(raw)
	if payload.Kind == normalizer.KindText {
		lower := strings.ToLower(payload.Text)
		if !strings.Contains(lower, "port") && !strings.Contains(lower, "sim") {
			return nil, outcomeRetry
		}
	}

	return &InventoryResult{
		Available: true,
		Endpoint:  cand.path,
		Channels:  normalizer.ChannelReport(payload),
	}, outcomeSuccess
}

func (a *Adapter) inventoryRequest(ctx context.Context, creds domain.GatewayCredentials, token string, cand candidate) (*http.Request, error) {
	target := endpointURL(creds, cand.path)

	switch cand.shape {
	case shapeFormPost:
		form := url.Values{}
		form.Set("username", creds.Username)
		form.Set("password", creds.Password)
		if token != "" {
			form.Set("token", token)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil

	case shapeJSONPost:
		body := map[string]string{
			"username": creds.Username,
			"password": creds.Password,
		}
		if token != "" {
			body["token"] = token
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil

	default: // shapeQueryGet
		query := url.Values{}
		query.Set("username", creds.Username)
		query.Set("password", creds.Password)
		if token != "" {
			query.Set("token", token)
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, target+"?"+query.Encode(), nil)
	}
}

// baseURL normalizes the configured address into scheme://host:port.
func baseURL(creds domain.GatewayCredentials) string {
	base := strings.TrimSpace(creds.BaseURL)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/")
	if creds.Port != 0 {
		base = fmt.Sprintf("%s:%d", base, creds.Port)
	}
	return base
}

func endpointURL(creds domain.GatewayCredentials, path string) string {
	return baseURL(creds) + path
}

func looksLikeHTML(body []byte) bool {
	lower := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<title")
}

// classifyHTMLError maps the gateway's HTML error pages onto the error
// taxonomy. Device firmwares answer some misconfigurations with full HTML
// pages instead of status codes.
func classifyHTMLError(body []byte) error {
	text := string(body)
	switch {
	case strings.Contains(text, "Unauthorized"):
		return fmt.Errorf("%w: gateway returned unauthorized page", domain.ErrAuthenticationFailed)
	case strings.Contains(text, "Not Found"):
		return fmt.Errorf("%w: gateway returned not-found page", domain.ErrEndpointNotFound)
	default:
		return fmt.Errorf("%w: gateway returned html error page", domain.ErrProtocol)
	}
}

// classifyTransportError distinguishes the three transport failure causes an
// operator can act on: deadline expiry, active refusal and TLS trouble.
// Everything else is plain unreachability.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", domain.ErrConnectionRefused, err)
	}
	var certVerifyErr *tls.CertificateVerificationError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certVerifyErr) || errors.As(err, &unknownAuthErr) || errors.As(err, &hostnameErr) {
		return fmt.Errorf("%w: %v", domain.ErrTLSFailure, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
}

func rawMessageID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return string(raw)
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
