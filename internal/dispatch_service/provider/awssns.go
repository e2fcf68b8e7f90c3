package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

const (
	snsRatePerSegment = 0.00645
	snsSendTimeout    = 30 * time.Second
)

var snsRegionPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// SNSConfig carries the signing credentials and target region.
type SNSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BaseURL         string
}

// SNSClient publishes messages through the JSON Publish API. The publish
// model is fire-and-forget: there is no per-message delivery query.
type SNSClient struct {
	cfg        SNSConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSNSClient(cfg SNSConfig, httpClient *http.Client, logger *slog.Logger) *SNSClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://sns.%s.amazonaws.com", cfg.Region)
	}
	return &SNSClient{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("provider", NameAWSSNS),
	}
}

func (c *SNSClient) Name() string { return NameAWSSNS }

func (c *SNSClient) ValidateConfig() error {
	switch {
	case !strings.HasPrefix(c.cfg.AccessKeyID, "AKIA"):
		return fmt.Errorf("%w: access key id must start with AKIA", domain.ErrMisconfiguredProvider)
	case len(c.cfg.SecretAccessKey) < 40:
		return fmt.Errorf("%w: secret access key shorter than 40 characters", domain.ErrMisconfiguredProvider)
	case !snsRegionPattern.MatchString(c.cfg.Region):
		return fmt.Errorf("%w: region %q is not a valid region name", domain.ErrMisconfiguredProvider, c.cfg.Region)
	}
	return nil
}

func (c *SNSClient) Limits() Limits {
	return Limits{MaxMessageChars: 1600, MaxRecipients: 100, RequestsPerSecond: 20}
}

func (c *SNSClient) EstimateCost(body string, recipients int) CostEstimate {
	return estimate(body, recipients, snsRatePerSegment, "USD")
}

func (c *SNSClient) Send(ctx context.Context, recipient, body string) (*SendReceipt, error) {
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, snsSendTimeout)
	defer cancel()

	payload := map[string]string{
		"PhoneNumber": recipient,
		"Message":     body,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding publish payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("building publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.0")
	req.Header.Set("X-Amz-Target", "AmazonSNS.Publish")
	req.Header.Set("Authorization", fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s/sns", c.cfg.AccessKeyID, c.cfg.Region))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading publish response: %w", err)
	}

	var parsed struct {
		MessageID string `json:"MessageId"`
		Type      string `json:"__type"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtocol, truncate(raw, 200))
	}

	if resp.StatusCode == http.StatusForbidden || strings.Contains(parsed.Type, "InvalidClientTokenId") {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthenticationFailed, parsed.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.RejectionError{Provider: NameAWSSNS, Code: resp.StatusCode, Message: parsed.Message}
	}

	c.logger.InfoContext(ctx, "message published", "message_id", parsed.MessageID)
	return &SendReceipt{
		ProviderMessageID: parsed.MessageID,
		Segments:          segmentCount(body),
		Cost:              c.EstimateCost(body, 1),
	}, nil
}

// MessageStatus reports the terminal state the publish model can guarantee.
// The API accepts or refuses at publish time and exposes no later query, so
// an accepted message stays sent.
func (c *SNSClient) MessageStatus(ctx context.Context, providerMessageID string) (domain.DeliveryStatus, error) {
	return domain.StatusSent, nil
}
