package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

const (
	vonageRatePerSegment = 0.0072
	vonageSendTimeout    = 30 * time.Second
	vonageStatusTimeout  = 15 * time.Second
)

// VonageConfig carries API credentials and the sender identity.
type VonageConfig struct {
	APIKey    string
	APISecret string
	FromName  string
	BaseURL   string
}

// VonageClient speaks the SMS JSON API. Per-message results arrive as
// numeric status codes in string form; "0" is the only success.
type VonageClient struct {
	cfg        VonageConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewVonageClient(cfg VonageConfig, httpClient *http.Client, logger *slog.Logger) *VonageClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://rest.nexmo.com"
	}
	return &VonageClient{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("provider", NameVonage),
	}
}

func (c *VonageClient) Name() string { return NameVonage }

func (c *VonageClient) ValidateConfig() error {
	switch {
	case len(c.cfg.APIKey) < 8:
		return fmt.Errorf("%w: vonage api key shorter than 8 characters", domain.ErrMisconfiguredProvider)
	case len(c.cfg.APISecret) < 16:
		return fmt.Errorf("%w: vonage api secret shorter than 16 characters", domain.ErrMisconfiguredProvider)
	case c.cfg.FromName == "":
		return fmt.Errorf("%w: vonage sender name is empty", domain.ErrMisconfiguredProvider)
	}
	return nil
}

func (c *VonageClient) Limits() Limits {
	return Limits{MaxMessageChars: 1600, MaxRecipients: 1000, RequestsPerSecond: 8}
}

func (c *VonageClient) EstimateCost(body string, recipients int) CostEstimate {
	return estimate(body, recipients, vonageRatePerSegment, "EUR")
}

type vonageSendResponse struct {
	Messages []struct {
		Status    string `json:"status"`
		MessageID string `json:"message-id"`
		ErrorText string `json:"error-text"`
	} `json:"messages"`
}

func (c *VonageClient) Send(ctx context.Context, recipient, body string) (*SendReceipt, error) {
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, vonageSendTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("api_key", c.cfg.APIKey)
	form.Set("api_secret", c.cfg.APISecret)
	form.Set("to", strings.TrimPrefix(recipient, "+"))
	form.Set("from", c.cfg.FromName)
	form.Set("text", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/sms/json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building vonage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading vonage response: %w", err)
	}

	var parsed vonageSendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Messages) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtocol, truncate(raw, 200))
	}

	msg := parsed.Messages[0]
	if msg.Status != "0" {
		code, _ := strconv.Atoi(msg.Status)
		// Status 4 is invalid credentials in this API's vocabulary.
		if code == 4 {
			return nil, fmt.Errorf("%w: %s", domain.ErrAuthenticationFailed, msg.ErrorText)
		}
		return nil, &domain.RejectionError{Provider: NameVonage, Code: code, Message: msg.ErrorText}
	}

	c.logger.InfoContext(ctx, "message accepted", "message_id", msg.MessageID)
	return &SendReceipt{
		ProviderMessageID: msg.MessageID,
		Segments:          segmentCount(body),
		Cost:              c.EstimateCost(body, 1),
	}, nil
}

// vonageStatusValues is fail-closed like the other backends.
var vonageStatusValues = map[string]domain.DeliveryStatus{
	"accepted":  domain.StatusPending,
	"buffered":  domain.StatusPending,
	"submitted": domain.StatusSent,
	"delivered": domain.StatusDelivered,
	"expired":   domain.StatusExpired,
	"failed":    domain.StatusFailed,
	"rejected":  domain.StatusFailed,
}

func (c *VonageClient) MapStatus(raw string) domain.DeliveryStatus {
	if status, ok := vonageStatusValues[strings.ToLower(raw)]; ok {
		return status
	}
	return domain.StatusFailed
}

func (c *VonageClient) MessageStatus(ctx context.Context, providerMessageID string) (domain.DeliveryStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, vonageStatusTimeout)
	defer cancel()

	query := url.Values{}
	query.Set("api_key", c.cfg.APIKey)
	query.Set("api_secret", c.cfg.APISecret)
	query.Set("id", providerMessageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/search/message?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("building vonage status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading vonage status response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.RejectionError{Provider: NameVonage, Code: resp.StatusCode, Message: truncate(raw, 200)}
	}

	var parsed struct {
		Status      string `json:"status"`
		FinalStatus string `json:"final-status"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrProtocol, truncate(raw, 200))
	}

	status := parsed.FinalStatus
	if status == "" {
		status = parsed.Status
	}
	return c.MapStatus(status), nil
}
