package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
	"github.com/worksuite/smsdispatch/internal/dispatch_service/provider"
)

func TestPacer_SpacesSendsPerBackend(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := newPacer()
	p.now = func() time.Time { return current }

	assert.Zero(t, p.reserve("twilio", 10), "first slot is immediate")
	assert.Equal(t, 100*time.Millisecond, p.reserve("twilio", 10))
	assert.Equal(t, 200*time.Millisecond, p.reserve("twilio", 10))
	assert.Zero(t, p.reserve("vonage", 10), "backends pace independently")
	assert.Zero(t, p.reserve("gateway", 0), "zero ceiling disables pacing")

	current = current.Add(time.Second)
	assert.Zero(t, p.reserve("twilio", 10), "idle time clears the backlog")
}

func TestBulkWorker_SendRateFollowsBackendLimits(t *testing.T) {
	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:       provider.NewRegistry(&fakeProvider{name: "twilio"}),
		DefaultProvider: "twilio",
	})
	w := NewBulkWorker(testLogger(), o, nil)

	name, rps := w.sendRate(domain.DispatchRequest{Recipient: "+3551"})
	assert.Equal(t, "twilio", name, "empty selector resolves to the default backend")
	assert.Equal(t, 10, rps)

	name, rps = w.sendRate(domain.DispatchRequest{Recipient: "+3551", Provider: GatewayName})
	assert.Equal(t, GatewayName, name)
	assert.Zero(t, rps, "hardware gateway sends are unpaced")

	_, rps = w.sendRate(domain.DispatchRequest{Recipient: "+3551", Provider: "no-such"})
	assert.Zero(t, rps)
}

func TestBulkWorker_HandleDispatchesQueuedJob(t *testing.T) {
	backend := &fakeProvider{name: "twilio"}
	store := &fakeStore{}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Providers:       provider.NewRegistry(backend),
		DefaultProvider: "twilio",
		Records:         store,
	})
	w := NewBulkWorker(testLogger(), o, nil)

	payload, err := json.Marshal(bulkJob{
		CampaignID: "c-1",
		Request:    domain.DispatchRequest{Recipient: "+3551", Message: "hi"},
	})
	require.NoError(t, err)

	w.handle(context.Background(), payload)

	require.Len(t, backend.sent, 1)
	assert.Equal(t, "+3551", backend.sent[0])
	require.Len(t, store.saved, 1)
	assert.Equal(t, domain.StatusSent, store.saved[0].Status)
}
