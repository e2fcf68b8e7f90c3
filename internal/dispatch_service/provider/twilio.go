package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

const (
	twilioRatePerSegment = 0.0075
	twilioSendTimeout    = 30 * time.Second
	twilioStatusTimeout  = 15 * time.Second
)

// TwilioConfig carries the account credentials and the sender identity.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

// TwilioClient speaks the Messages REST API (form-encoded requests, Basic
// auth with SID and token).
type TwilioClient struct {
	cfg        TwilioConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewTwilioClient(cfg TwilioConfig, httpClient *http.Client, logger *slog.Logger) *TwilioClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &TwilioClient{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("provider", NameTwilio),
	}
}

func (c *TwilioClient) Name() string { return NameTwilio }

// ValidateConfig checks credential shape locally. Account SIDs always carry
// the AC prefix.
func (c *TwilioClient) ValidateConfig() error {
	switch {
	case c.cfg.AccountSID == "":
		return fmt.Errorf("%w: twilio account sid is empty", domain.ErrMisconfiguredProvider)
	case !strings.HasPrefix(c.cfg.AccountSID, "AC"):
		return fmt.Errorf("%w: twilio account sid must start with AC", domain.ErrMisconfiguredProvider)
	case c.cfg.AuthToken == "":
		return fmt.Errorf("%w: twilio auth token is empty", domain.ErrMisconfiguredProvider)
	case c.cfg.FromNumber == "":
		return fmt.Errorf("%w: twilio from number is empty", domain.ErrMisconfiguredProvider)
	}
	return nil
}

func (c *TwilioClient) Limits() Limits {
	return Limits{MaxMessageChars: 1600, MaxRecipients: 1000, RequestsPerSecond: 10}
}

func (c *TwilioClient) EstimateCost(body string, recipients int) CostEstimate {
	return estimate(body, recipients, twilioRatePerSegment, "USD")
}

type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *TwilioClient) Send(ctx context.Context, recipient, body string) (*SendReceipt, error) {
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, twilioSendTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.cfg.BaseURL, c.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading twilio response: %w", err)
	}

	var parsed twilioMessageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtocol, truncate(raw, 200))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthenticationFailed, parsed.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.RejectionError{Provider: NameTwilio, Code: parsed.Code, Message: parsed.Message}
	}

	c.logger.InfoContext(ctx, "message accepted", "sid", parsed.SID, "status", parsed.Status)
	return &SendReceipt{
		ProviderMessageID: parsed.SID,
		Segments:          segmentCount(body),
		Cost:              c.EstimateCost(body, 1),
	}, nil
}

// twilioStatusValues is fail-closed: anything outside the known vocabulary
// classifies as failed so a typo in a callback can never report delivery.
var twilioStatusValues = map[string]domain.DeliveryStatus{
	"queued":      domain.StatusPending,
	"accepted":    domain.StatusPending,
	"sending":     domain.StatusPending,
	"sent":        domain.StatusSent,
	"delivered":   domain.StatusDelivered,
	"undelivered": domain.StatusFailed,
	"failed":      domain.StatusFailed,
}

// MapStatus converts a raw backend status string to the canonical state.
// Exported for webhook handling, which receives the same vocabulary.
func (c *TwilioClient) MapStatus(raw string) domain.DeliveryStatus {
	if status, ok := twilioStatusValues[strings.ToLower(raw)]; ok {
		return status
	}
	return domain.StatusFailed
}

func (c *TwilioClient) MessageStatus(ctx context.Context, providerMessageID string) (domain.DeliveryStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, twilioStatusTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", c.cfg.BaseURL, c.cfg.AccountSID, providerMessageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building twilio status request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading twilio status response: %w", err)
	}

	var parsed twilioMessageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrProtocol, truncate(raw, 200))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.RejectionError{Provider: NameTwilio, Code: parsed.Code, Message: parsed.Message}
	}

	return c.MapStatus(parsed.Status), nil
}
