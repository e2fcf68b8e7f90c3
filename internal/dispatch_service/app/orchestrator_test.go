package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/gateway"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	name          string
	validateErr   error
	sendErr       error
	maxRecipients int
	sent          []string
}

func (f *fakeProvider) Name() string          { return f.name }
func (f *fakeProvider) ValidateConfig() error { return f.validateErr }
func (f *fakeProvider) Limits() provider.Limits {
	max := f.maxRecipients
	if max == 0 {
		max = 1000
	}
	return provider.Limits{MaxMessageChars: 1600, MaxRecipients: max, RequestsPerSecond: 10}
}
func (f *fakeProvider) EstimateCost(body string, recipients int) provider.CostEstimate {
	return provider.CostEstimate{Segments: 1, Recipients: recipients, Amount: 0.01 * float64(recipients), Currency: "USD"}
}
func (f *fakeProvider) Send(ctx context.Context, recipient, body string) (*provider.SendReceipt, error) {
	f.sent = append(f.sent, recipient)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &provider.SendReceipt{
		ProviderMessageID: f.name + "-msg-1",
		Segments:          1,
		Cost:              f.EstimateCost(body, 1),
	}, nil
}
func (f *fakeProvider) MessageStatus(ctx context.Context, id string) (domain.DeliveryStatus, error) {
	return domain.StatusSent, nil
}

type fakeGatewayAdapter struct {
	sendResult  *gateway.SendResult
	sendErr     error
	lastSession int
	lastChannel int
	status      *gateway.StatusResult
	inventory   *gateway.InventoryResult
	authErr     error
}

func (f *fakeGatewayAdapter) Connect(ctx context.Context, creds domain.GatewayCredentials) error {
	return nil
}
func (f *fakeGatewayAdapter) Authenticate(ctx context.Context, creds domain.GatewayCredentials) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return "tok", nil
}
func (f *fakeGatewayAdapter) SendMessage(ctx context.Context, creds domain.GatewayCredentials, sessionID int, recipient, body string, subChannel int) (*gateway.SendResult, error) {
	f.lastSession = sessionID
	f.lastChannel = subChannel
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResult, nil
}
func (f *fakeGatewayAdapter) ProbeStatus(ctx context.Context, creds domain.GatewayCredentials, sessionID int, messageID string) (*gateway.StatusResult, error) {
	return f.status, nil
}
func (f *fakeGatewayAdapter) ProbeInventory(ctx context.Context, creds domain.GatewayCredentials, token string) (*gateway.InventoryResult, error) {
	return f.inventory, nil
}

type fakeQueue struct {
	published [][]byte
	err       error
}

func (f *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, data)
	return nil
}

type fakeStore struct {
	saved     []*domain.DeliveryRecord
	bySession map[int]*domain.DeliveryRecord
}

func (f *fakeStore) Save(ctx context.Context, record *domain.DeliveryRecord) error {
	f.saved = append(f.saved, record)
	return nil
}
func (f *fakeStore) LoadBySession(ctx context.Context, sessionID int) (*domain.DeliveryRecord, error) {
	return f.bySession[sessionID], nil
}

func newTestOrchestrator(t *testing.T, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	if cfg.Templates == nil {
		cfg.Templates = NewInMemoryTemplateResolver(nil)
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "twilio"
	}
	return NewOrchestrator(testLogger(), cfg)
}

func TestDispatch_FallbackTriesBackendsInOrder(t *testing.T) {
	primary := &fakeProvider{name: "twilio", sendErr: &domain.RejectionError{Provider: "twilio", Code: 1, Message: "no"}}
	second := &fakeProvider{name: "vonage"}
	third := &fakeProvider{name: "aws_sns"}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:       provider.NewRegistry(primary, second, third),
		DefaultProvider: "twilio",
		EnableFallback:  true,
		FallbackOrder:   []string{"vonage", "aws_sns"},
		Records:         &fakeStore{},
	})

	record, err := o.Dispatch(context.Background(), domain.DispatchRequest{
		Recipient: "+355694100001", Message: "hi",
	})
	require.NoError(t, err)

	assert.Equal(t, "vonage", record.Provider)
	assert.Equal(t, domain.StatusSent, record.Status)
	assert.Len(t, primary.sent, 1)
	assert.Len(t, second.sent, 1)
	assert.Empty(t, third.sent, "fallback stops at the first success")
}

func TestDispatch_ExplicitProviderNotRetriedFromFallbackList(t *testing.T) {
	vonage := &fakeProvider{name: "vonage", sendErr: errors.New("down")}
	sns := &fakeProvider{name: "aws_sns"}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:       provider.NewRegistry(vonage, sns),
		DefaultProvider: "twilio",
		EnableFallback:  true,
		FallbackOrder:   []string{"vonage", "aws_sns"},
	})

	record, err := o.Dispatch(context.Background(), domain.DispatchRequest{
		Recipient: "+355694100001", Message: "hi", Provider: "vonage",
	})
	require.NoError(t, err)

	assert.Equal(t, "aws_sns", record.Provider)
	assert.Len(t, vonage.sent, 1, "explicit choice tried exactly once")
}

func TestDispatch_FallbackDisabledFailsAfterPrimary(t *testing.T) {
	primary := &fakeProvider{name: "twilio", sendErr: errors.New("down")}
	second := &fakeProvider{name: "vonage"}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:       provider.NewRegistry(primary, second),
		DefaultProvider: "twilio",
		EnableFallback:  false,
		FallbackOrder:   []string{"vonage"},
	})

	record, err := o.Dispatch(context.Background(), domain.DispatchRequest{
		Recipient: "+355694100001", Message: "hi",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAllProvidersFailed))
	assert.Equal(t, domain.StatusFailed, record.Status)
	assert.Empty(t, second.sent)
}

func TestDispatch_AllFailedRecordNamesLastBackend(t *testing.T) {
	primary := &fakeProvider{name: "twilio", sendErr: errors.New("down")}
	second := &fakeProvider{name: "vonage", sendErr: errors.New("also down")}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:       provider.NewRegistry(primary, second),
		DefaultProvider: "twilio",
		EnableFallback:  true,
		FallbackOrder:   []string{"vonage"},
	})

	record, err := o.Dispatch(context.Background(), domain.DispatchRequest{
		Recipient: "+355694100001", Message: "hi",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAllProvidersFailed))
	assert.Equal(t, "vonage", record.Provider, "failed record names the last backend attempted")
	require.NotNil(t, record.ErrorMessage)
	assert.Equal(t, "also down", *record.ErrorMessage)
}

func TestDispatch_MisconfiguredBackendIsSkipped(t *testing.T) {
	primary := &fakeProvider{name: "twilio", validateErr: domain.ErrMisconfiguredProvider}
	second := &fakeProvider{name: "vonage"}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:       provider.NewRegistry(primary, second),
		DefaultProvider: "twilio",
		EnableFallback:  true,
		FallbackOrder:   []string{"vonage"},
	})

	record, err := o.Dispatch(context.Background(), domain.DispatchRequest{
		Recipient: "+355694100001", Message: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "vonage", record.Provider)
	assert.Empty(t, primary.sent, "validation failure means no network call")
}

func TestDispatch_TemplateResolvedBeforeSend(t *testing.T) {
	templates := NewInMemoryTemplateResolver(map[string]string{
		"welcome": "Hello {{name}}, your code is {{code}}",
	})
	backend := &fakeProvider{name: "twilio"}
	store := &fakeStore{}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers: provider.NewRegistry(backend),
		Templates: templates,
		Records:   store,
	})

	record, err := o.Dispatch(context.Background(), domain.DispatchRequest{
		Recipient:         "+355694100001",
		TemplateID:        "welcome",
		TemplateVariables: map[string]string{"name": "Ana", "code": "1234"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana, your code is 1234", record.Message)
	require.NotNil(t, record.TemplateID)
	assert.Equal(t, "welcome", *record.TemplateID)
}

func TestDispatch_UnknownTemplateAbortsBeforeAnySend(t *testing.T) {
	backend := &fakeProvider{name: "twilio"}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers: provider.NewRegistry(backend),
	})

	_, err := o.Dispatch(context.Background(), domain.DispatchRequest{
		Recipient:  "+355694100001",
		TemplateID: "no-such-template",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTemplateNotFound))
	assert.Empty(t, backend.sent)
}

func TestDispatch_GatewayBackendCarriesSessionAndChannel(t *testing.T) {
	adapter := &fakeGatewayAdapter{
		sendResult: &gateway.SendResult{Accepted: true, MessageID: "gw-1"},
	}
	three := 3
	store := &fakeStore{}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:      provider.NewRegistry(),
		GatewayAdapter: adapter,
		Records:        store,
	})

	record, err := o.Dispatch(context.Background(), domain.DispatchRequest{
		Recipient: "+355694100001", Message: "hi", Provider: GatewayName, SubChannel: &three,
	})
	require.NoError(t, err)

	assert.Equal(t, GatewayName, record.Provider)
	require.NotNil(t, record.SessionID)
	assert.Equal(t, adapter.lastSession, *record.SessionID)
	assert.GreaterOrEqual(t, *record.SessionID, 1000)
	assert.LessOrEqual(t, *record.SessionID, 9999)
	assert.Equal(t, 3, adapter.lastChannel)
	require.NotNil(t, record.ProviderMessageID)
	assert.Equal(t, "gw-1", *record.ProviderMessageID)
}

func TestBulkDispatch_DeduplicatesUnionOfRecipientsAndGroups(t *testing.T) {
	queue := &fakeQueue{}
	groups := NewInMemoryGroupResolver(map[string][]string{
		"team": {"+3552", "+3553"},
	})
	backend := &fakeProvider{name: "twilio"}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers: provider.NewRegistry(backend),
		Groups:    groups,
		Queue:     queue,
	})

	receipt, err := o.BulkDispatch(context.Background(), BulkRequest{
		Recipients: []string{"+3551", "+3552", "+3551"},
		GroupIDs:   []string{"team"},
		Message:    "hi all",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, receipt.Queued)
	assert.Zero(t, receipt.Failed)
	assert.NotEmpty(t, receipt.CampaignID)
	require.Len(t, queue.published, 3)

	var order []string
	for _, payload := range queue.published {
		var job bulkJob
		require.NoError(t, json.Unmarshal(payload, &job))
		assert.Equal(t, receipt.CampaignID, job.CampaignID)
		assert.Equal(t, "hi all", job.Request.Message)
		order = append(order, job.Request.Recipient)
	}
	assert.Equal(t, []string{"+3551", "+3552", "+3553"}, order)

	require.NotNil(t, receipt.EstimatedCost)
	assert.Equal(t, 3, receipt.EstimatedCost.Recipients)
}

func TestBulkDispatch_EnforcesBackendRecipientLimit(t *testing.T) {
	queue := &fakeQueue{}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers: provider.NewRegistry(&fakeProvider{name: "twilio", maxRecipients: 2}),
		Queue:     queue,
	})

	_, err := o.BulkDispatch(context.Background(), BulkRequest{
		Recipients: []string{"+3551", "+3552", "+3553"},
		Message:    "hi",
	})
	require.Error(t, err)
	assert.Empty(t, queue.published)
}

func TestBulkDispatch_TemplateResolvesOnceBeforeQueueing(t *testing.T) {
	queue := &fakeQueue{}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers: provider.NewRegistry(&fakeProvider{name: "twilio"}),
		Queue:     queue,
	})

	_, err := o.BulkDispatch(context.Background(), BulkRequest{
		Recipients: []string{"+3551"},
		TemplateID: "missing",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTemplateNotFound))
	assert.Empty(t, queue.published, "nothing queued on template failure")
}

func TestBulkDispatch_ZeroRecipientsIsAnError(t *testing.T) {
	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers: provider.NewRegistry(&fakeProvider{name: "twilio"}),
		Queue:     &fakeQueue{},
	})

	_, err := o.BulkDispatch(context.Background(), BulkRequest{Message: "hi"})
	assert.Error(t, err)
}

func TestGatewayStatus_KnownResultUpdatesStoredRecord(t *testing.T) {
	record := domain.NewOutboundRecord("+3551", "hi", GatewayName)
	session := 4217
	record.SessionID = &session
	record.MarkSent("gw-1")

	store := &fakeStore{bySession: map[int]*domain.DeliveryRecord{4217: record}}
	adapter := &fakeGatewayAdapter{
		status: &gateway.StatusResult{Known: true, DeliveryStatus: domain.StatusDelivered},
	}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:      provider.NewRegistry(),
		GatewayAdapter: adapter,
		Records:        store,
	})

	result, err := o.GatewayStatus(context.Background(), 4217, "gw-1")
	require.NoError(t, err)
	assert.True(t, result.Known)
	assert.Equal(t, domain.StatusDelivered, record.Status)
	assert.NotNil(t, record.DeliveredAt)
}

func TestGatewayStatus_UnknownResultLeavesRecordAlone(t *testing.T) {
	record := domain.NewOutboundRecord("+3551", "hi", GatewayName)
	session := 4217
	record.SessionID = &session
	record.MarkSent("gw-1")

	store := &fakeStore{bySession: map[int]*domain.DeliveryRecord{4217: record}}
	adapter := &fakeGatewayAdapter{status: &gateway.StatusResult{Known: false}}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:      provider.NewRegistry(),
		GatewayAdapter: adapter,
		Records:        store,
	})

	result, err := o.GatewayStatus(context.Background(), 4217, "gw-1")
	require.NoError(t, err)
	assert.False(t, result.Known)
	assert.Equal(t, domain.StatusSent, record.Status)
}

func TestGatewayInventory_AuthFailureDowngradesToUnauthenticatedProbe(t *testing.T) {
	adapter := &fakeGatewayAdapter{
		authErr:   domain.ErrAuthenticationFailed,
		inventory: &gateway.InventoryResult{Available: true, Channels: []domain.ChannelStatus{{Port: 1}}},
	}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:      provider.NewRegistry(),
		GatewayAdapter: adapter,
	})

	result, err := o.GatewayInventory(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Available)
}

func TestRecordInbound_PersistsReceivedMessage(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers: provider.NewRegistry(),
		Records:   store,
	})

	receivedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	record, err := o.RecordInbound(context.Background(), "+3559", "pong", "twilio", receivedAt)
	require.NoError(t, err)

	assert.Equal(t, domain.DirectionInbound, record.Direction)
	assert.Equal(t, domain.StatusReceived, record.Status)
	require.NotNil(t, record.ReceivedAt)
	assert.Equal(t, receivedAt, *record.ReceivedAt)
	require.Len(t, store.saved, 1)
}

func TestTemplateResolver_LeavesUnknownPlaceholders(t *testing.T) {
	r := NewInMemoryTemplateResolver(map[string]string{
		"t": "Hi {{name}}, ref {{ref}}",
	})

	resolved, err := r.Resolve(context.Background(), "t", map[string]string{"name": "Ben"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ben, ref {{ref}}", resolved)
}
