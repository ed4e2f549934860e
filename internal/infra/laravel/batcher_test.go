package laravel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// fakePlane grava os batches recebidos e permite simular falhas
type fakePlane struct {
	qrBatches     [][]gateway.QRBatchItem
	statusBatches [][]gateway.StatusBatchItem
	lifecycle     [][]session.LifecycleEvent
	failNext      bool
}

func (f *fakePlane) ActiveAccounts(ctx context.Context) ([]gateway.Account, error) { return nil, nil }
func (f *fakePlane) WebhookToken(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}
func (f *fakePlane) StatusByToken(ctx context.Context, token string) (session.ReportedStatus, error) {
	return session.StatusActive, nil
}
func (f *fakePlane) PostWebhookMessage(ctx context.Context, token string, msg gateway.WebhookMessage) error {
	return nil
}

func (f *fakePlane) PostQRBatch(ctx context.Context, items []gateway.QRBatchItem) error {
	if f.failNext {
		f.failNext = false
		return errors.New("control plane down")
	}
	f.qrBatches = append(f.qrBatches, items)
	return nil
}

func (f *fakePlane) PostStatusBatch(ctx context.Context, items []gateway.StatusBatchItem) error {
	if f.failNext {
		f.failNext = false
		return errors.New("control plane down")
	}
	f.statusBatches = append(f.statusBatches, items)
	return nil
}

func (f *fakePlane) PostLifecycleBatch(ctx context.Context, events []session.LifecycleEvent) error {
	if f.failNext {
		f.failNext = false
		return errors.New("control plane down")
	}
	f.lifecycle = append(f.lifecycle, events)
	return nil
}

func testBatcher(plane gateway.ControlPlane) *Batcher {
	return NewBatcher(BatcherOptions{
		BatchSize:        50,
		QRInterval:       5 * time.Second,
		StatusInterval:   time.Second,
		QRMinGap:         time.Second,
		StatusMinGapHigh: 500 * time.Millisecond,
		StatusMinGap:     time.Second,
	}, plane, logger.Nop())
}

func TestBatcherCoalescesQRPerSession(t *testing.T) {
	plane := &fakePlane{}
	b := testBatcher(plane)

	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskQR, SessionID: "s1", QR: "old"})
	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskQR, SessionID: "s1", QR: "new"})
	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskQR, SessionID: "s2", QR: "other"})

	b.FlushAll(context.Background())

	require.Len(t, plane.qrBatches, 1)
	batch := plane.qrBatches[0]
	require.Len(t, batch, 2)

	values := map[string]string{}
	for _, item := range batch {
		values[item.SessionID] = item.QR
	}
	assert.Equal(t, "new", values["s1"], "last write wins")
	assert.Equal(t, "other", values["s2"])
}

func TestBatcherStatusHighPriorityFirst(t *testing.T) {
	plane := &fakePlane{}
	b := testBatcher(plane)

	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskStatus, SessionID: "normal", Status: session.StatusPending, Priority: session.PriorityNormal})
	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskStatus, SessionID: "urgent", Status: session.StatusInactive, Priority: session.PriorityHigh})

	b.FlushAll(context.Background())

	require.Len(t, plane.statusBatches, 1)
	batch := plane.statusBatches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "urgent", batch[0].SessionID, "high priority items lead the batch")
}

func TestBatcherStatusKeepsHighPriorityOnOverwrite(t *testing.T) {
	plane := &fakePlane{}
	b := testBatcher(plane)

	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskStatus, SessionID: "s1", Status: session.StatusInactive, Priority: session.PriorityHigh})
	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskStatus, SessionID: "s1", Status: session.StatusConnecting, Priority: session.PriorityNormal})
	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskStatus, SessionID: "s2", Status: session.StatusPending, Priority: session.PriorityNormal})

	b.FlushAll(context.Background())

	require.Len(t, plane.statusBatches, 1)
	batch := plane.statusBatches[0]
	require.Len(t, batch, 2)

	// s1 foi sobrescrito com valor novo mas preservou a prioridade alta
	assert.Equal(t, "s1", batch[0].SessionID)
	assert.Equal(t, string(session.StatusConnecting), batch[0].Status)
}

func TestBatcherRequeuesOnFailure(t *testing.T) {
	plane := &fakePlane{failNext: true}
	b := testBatcher(plane)

	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskQR, SessionID: "s1", QR: "qr-payload"})

	b.FlushAll(context.Background())
	assert.Empty(t, plane.qrBatches)

	metrics := b.Metrics("closed")
	assert.Equal(t, int64(1), metrics.FailedFlushes)
	assert.Equal(t, 1, metrics.QRBatchSize, "failed items return to the batch")

	b.FlushAll(context.Background())
	require.Len(t, plane.qrBatches, 1)
	assert.Equal(t, "qr-payload", plane.qrBatches[0][0].QR)
}

func TestBatcherMinGapSuppressesBackToBackFlush(t *testing.T) {
	plane := &fakePlane{}
	b := testBatcher(plane)

	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskQR, SessionID: "s1", QR: "a"})
	b.FlushAll(context.Background())
	require.Len(t, plane.qrBatches, 1)

	// Flush normal logo em seguida é suprimido pelo intervalo mínimo
	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskQR, SessionID: "s1", QR: "b"})
	b.flushQR(context.Background())
	assert.Len(t, plane.qrBatches, 1)

	// FlushAll ignora o intervalo mínimo
	b.FlushAll(context.Background())
	assert.Len(t, plane.qrBatches, 2)
}

func TestBatcherFlushesLifecycleEvents(t *testing.T) {
	plane := &fakePlane{}
	b := testBatcher(plane)

	ev := session.LifecycleEvent{SessionID: "s1", Event: session.EventSessionOpen, Timestamp: time.Now()}
	b.Enqueue(gateway.OutboundTask{Kind: gateway.TaskLifecycle, SessionID: "s1", Lifecycle: &ev})

	b.FlushAll(context.Background())

	require.Len(t, plane.lifecycle, 1)
	require.Len(t, plane.lifecycle[0], 1)
	assert.Equal(t, session.EventSessionOpen, plane.lifecycle[0][0].Event)
}
