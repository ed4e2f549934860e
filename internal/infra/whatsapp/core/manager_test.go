package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	"zapgate/internal/infra/cache"
	"zapgate/internal/infra/whatsapp/connection"
	sessionstore "zapgate/internal/infra/whatsapp/session"
	"zapgate/pkg/logger"
)

type noopRepo struct{}

func (noopRepo) Create(ctx context.Context, sess *domain.Session) error { return nil }
func (noopRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}
func (noopRepo) List(ctx context.Context) ([]*domain.Session, error)    { return nil, nil }
func (noopRepo) Update(ctx context.Context, sess *domain.Session) error { return nil }
func (noopRepo) Delete(ctx context.Context, id string) error            { return nil }
func (noopRepo) UpdateStatus(ctx context.Context, id string, status domain.ReportedStatus) error {
	return nil
}
func (noopRepo) UpdateJID(ctx context.Context, id string, waJID string) error      { return nil }
func (noopRepo) UpdateActivity(ctx context.Context, id string, at time.Time) error { return nil }
func (noopRepo) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	return nil
}

type noopPlane struct{}

func (noopPlane) ActiveAccounts(ctx context.Context) ([]gateway.Account, error) { return nil, nil }
func (noopPlane) WebhookToken(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}
func (noopPlane) StatusByToken(ctx context.Context, webhookToken string) (domain.ReportedStatus, error) {
	return domain.StatusPending, nil
}
func (noopPlane) PostQRBatch(ctx context.Context, items []gateway.QRBatchItem) error { return nil }
func (noopPlane) PostStatusBatch(ctx context.Context, items []gateway.StatusBatchItem) error {
	return nil
}
func (noopPlane) PostLifecycleBatch(ctx context.Context, events []domain.LifecycleEvent) error {
	return nil
}
func (noopPlane) PostWebhookMessage(ctx context.Context, webhookToken string, msg gateway.WebhookMessage) error {
	return nil
}

// statusRecorder captura as publicações de status do facade
type statusRecorder struct {
	updates []struct {
		SessionID string
		Status    domain.ReportedStatus
		Priority  domain.Priority
	}
}

func (r *statusRecorder) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.ReportedStatus, priority domain.Priority) {
	r.updates = append(r.updates, struct {
		SessionID string
		Status    domain.ReportedStatus
		Priority  domain.Priority
	}{sessionID, status, priority})
}

type noopSink struct{}

func (noopSink) Enqueue(task gateway.OutboundTask) {}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(ctx context.Context, ev domain.LifecycleEvent) {}

type noopInbound struct{}

func (noopInbound) HandleInbound(ctx context.Context, sessionID string, msgs []gateway.InboundMessage) {
}

func newTestManager(t *testing.T) (*Manager, *sessionstore.Store, *statusRecorder) {
	t.Helper()

	store := sessionstore.NewStore(10)
	factory := NewSocketFactory(nil, t.TempDir(), false, logger.Nop())
	mem := cache.NewMemoryCache()
	qr := connection.NewQRController(connection.QROptions{
		Throttle: time.Second,
		MaxSends: 3,
		Expires:  time.Minute,
	}, mem, noopSink{}, noopRecorder{}, logger.Nop())

	rec := &statusRecorder{}
	mgr := NewManager(store, factory, noopRepo{}, mem, noopPlane{}, qr, rec, noopInbound{}, logger.Nop())
	return mgr, store, rec
}

func TestRemoveSessionEmitsSingleInactiveStatus(t *testing.T) {
	mgr, store, rec := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(&sessionstore.Record{ID: "s1", UserID: "u1"}))

	require.NoError(t, mgr.RemoveSession(ctx, "s1", false))

	require.Len(t, rec.updates, 1)
	assert.Equal(t, "s1", rec.updates[0].SessionID)
	assert.Equal(t, domain.StatusInactive, rec.updates[0].Status)
	assert.Equal(t, domain.PriorityHigh, rec.updates[0].Priority)
	assert.False(t, mgr.HasSession("s1"))
}

func TestRemoveSessionIsIdempotent(t *testing.T) {
	mgr, store, rec := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(&sessionstore.Record{ID: "s1"}))

	require.NoError(t, mgr.RemoveSession(ctx, "s1", false))
	require.NoError(t, mgr.RemoveSession(ctx, "s1", false))

	// A segunda remoção não encontra registro e não publica nada
	assert.Len(t, rec.updates, 1)
}

func TestRemoveSessionPreserveAuthSkipsStatus(t *testing.T) {
	mgr, store, rec := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(&sessionstore.Record{ID: "s1"}))

	require.NoError(t, mgr.RemoveSession(ctx, "s1", true))

	assert.Empty(t, rec.updates)
	assert.False(t, mgr.HasSession("s1"))
}
