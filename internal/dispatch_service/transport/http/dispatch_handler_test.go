package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/app"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/gateway"
)

type fakeService struct {
	dispatchRecord *domain.DeliveryRecord
	dispatchErr    error
	bulkReceipt    *app.BulkReceipt
	bulkErr        error
	inboundRecord  *domain.DeliveryRecord
	connectErr     error
	inventory      *gateway.InventoryResult
	status         *gateway.StatusResult
	lastDispatch   *domain.DispatchRequest
}

func (f *fakeService) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DeliveryRecord, error) {
	f.lastDispatch = &req
	return f.dispatchRecord, f.dispatchErr
}
func (f *fakeService) BulkDispatch(ctx context.Context, req app.BulkRequest) (*app.BulkReceipt, error) {
	return f.bulkReceipt, f.bulkErr
}
func (f *fakeService) RecordInbound(ctx context.Context, sender, message, providerName string, receivedAt time.Time) (*domain.DeliveryRecord, error) {
	record := domain.NewInboundRecord(sender, message, providerName, receivedAt)
	f.inboundRecord = record
	return record, nil
}
func (f *fakeService) GatewayConnect(ctx context.Context) error { return f.connectErr }
func (f *fakeService) GatewayInventory(ctx context.Context) (*gateway.InventoryResult, error) {
	return f.inventory, nil
}
func (f *fakeService) GatewayStatus(ctx context.Context, sessionID int, messageID string) (*gateway.StatusResult, error) {
	return f.status, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRouter(service *fakeService) chi.Router {
	logger := discardLogger()
	r := chi.NewRouter()
	dispatch := NewDispatchHandler(service, logger)
	gatewayHandler := NewGatewayHandler(service, logger)
	dispatch.RegisterRoutes(r)
	dispatch.RegisterWebhookRoutes(r)
	gatewayHandler.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleSend_Accepted(t *testing.T) {
	record := domain.NewOutboundRecord("+355694100001", "hi", "twilio")
	record.MarkSent("SM1")
	service := &fakeService{dispatchRecord: record}
	router := testRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/messages/send", SendMessageRequest{
		Recipient: "+355694100001",
		Message:   "hi",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, record.ID, resp.RecordID)
	assert.Equal(t, domain.StatusSent, resp.Status)
	require.NotNil(t, service.lastDispatch)
	assert.Equal(t, "+355694100001", service.lastDispatch.Recipient)
}

func TestHandleSend_RejectsMalformedRecipient(t *testing.T) {
	service := &fakeService{}
	router := testRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/messages/send", SendMessageRequest{
		Recipient: "not-a-number",
		Message:   "hi",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, service.lastDispatch, "invalid request never reaches the orchestrator")
}

func TestHandleSend_UnknownTemplateIsNotFound(t *testing.T) {
	service := &fakeService{dispatchErr: fmt.Errorf("%w: %q", domain.ErrTemplateNotFound, "x")}
	router := testRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/messages/send", SendMessageRequest{
		Recipient:  "+355694100001",
		TemplateID: "x",
		Message:    "-", // satisfies required_without, template still wins
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSend_AllBackendsFailedReturnsRecordWith502(t *testing.T) {
	record := domain.NewOutboundRecord("+355694100001", "hi", "twilio")
	record.MarkFailed("all down")
	service := &fakeService{
		dispatchRecord: record,
		dispatchErr:    fmt.Errorf("%w: last backend error: down", domain.ErrAllProvidersFailed),
	}
	router := testRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/messages/send", SendMessageRequest{
		Recipient: "+355694100001",
		Message:   "hi",
	})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StatusFailed, resp.Status)
	require.NotNil(t, resp.ErrorMessage)
	assert.Equal(t, "all down", *resp.ErrorMessage)
}

func TestHandleBulkSend_ReportsQueuedAndEstimate(t *testing.T) {
	service := &fakeService{bulkReceipt: &app.BulkReceipt{Queued: 3}}
	router := testRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/messages/bulk", BulkSendRequest{
		Recipients: []string{"+355694100001", "+355694100002", "+355694100003"},
		Message:    "hi all",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp BulkSendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Queued)
}

func TestHandleIncoming_DefaultsProviderToGateway(t *testing.T) {
	service := &fakeService{}
	router := testRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/messages/incoming", InboundMessageRequest{
		Sender:  "+355694100009",
		Message: "pong",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, service.inboundRecord)
	assert.Equal(t, app.GatewayName, service.inboundRecord.Provider)
	assert.Equal(t, domain.DirectionInbound, service.inboundRecord.Direction)
}

func TestHandleIncoming_UsesPayloadTimestamp(t *testing.T) {
	service := &fakeService{}
	router := testRouter(service)

	rec := doJSON(t, router, http.MethodPost, "/messages/incoming", json.RawMessage(
		`{"sender":"+355694100001","message":"pong","timestamp":"2026-01-02T03:04:05Z","provider":"gateway"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, service.inboundRecord)
	require.NotNil(t, service.inboundRecord.ReceivedAt)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		service.inboundRecord.ReceivedAt.UTC(), "sender-supplied receive time is kept")
}

func TestHandleGatewayStatus(t *testing.T) {
	t.Run("invalid session id", func(t *testing.T) {
		router := testRouter(&fakeService{})
		rec := doJSON(t, router, http.MethodGet, "/gateway/status/12", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("known status", func(t *testing.T) {
		service := &fakeService{status: &gateway.StatusResult{
			Known: true, Endpoint: "/api/status", DeliveryStatus: domain.StatusDelivered,
		}}
		router := testRouter(service)

		rec := doJSON(t, router, http.MethodGet, "/gateway/status/4217?message_id=gw-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp GatewayStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Known)
		assert.Equal(t, domain.StatusDelivered, resp.DeliveryStatus)
	})
}

func TestHandleGatewayInventory_UnavailableIsStill200(t *testing.T) {
	service := &fakeService{inventory: &gateway.InventoryResult{Available: false}}
	router := testRouter(service)

	rec := doJSON(t, router, http.MethodGet, "/gateway/inventory", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GatewayInventoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Available)
	assert.NotNil(t, resp.Channels)
}

func TestRouter_AuthGuardsProtectedRoutes(t *testing.T) {
	secret := "unit-test-secret"
	record := domain.NewOutboundRecord("+355694100001", "hi", "twilio")
	record.MarkSent("SM1")
	service := &fakeService{dispatchRecord: record}

	logger := discardLogger()
	router := NewRouter(logger, secret,
		NewDispatchHandler(service, logger),
		NewGatewayHandler(service, logger))

	payload, _ := json.Marshal(SendMessageRequest{Recipient: "+355694100001", Message: "hi"})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewReader(payload))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":      "user-1",
			"username": "ops",
			"exp":      time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewReader(payload))
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("webhook stays open", func(t *testing.T) {
		body, _ := json.Marshal(InboundMessageRequest{Sender: "+3559", Message: "pong"})
		req := httptest.NewRequest(http.MethodPost, "/messages/incoming", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
