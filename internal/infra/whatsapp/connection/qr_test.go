package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	"zapgate/internal/infra/cache"
	"zapgate/pkg/logger"
)

type fakeSink struct {
	mu    sync.Mutex
	tasks []gateway.OutboundTask
}

func (f *fakeSink) Enqueue(task gateway.OutboundTask) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
}

func (f *fakeSink) byKind(kind gateway.TaskKind) []gateway.OutboundTask {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []gateway.OutboundTask
	for _, task := range f.tasks {
		if task.Kind == kind {
			out = append(out, task)
		}
	}
	return out
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (f *fakeRecorder) RecordTransition(ctx context.Context, ev domain.LifecycleEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeRecorder) all() []domain.LifecycleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LifecycleEvent(nil), f.events...)
}

func newTestQRController(opts QROptions) (*QRController, gateway.SharedCache, *fakeSink, *fakeRecorder) {
	shared := cache.NewMemoryCache()
	sink := &fakeSink{}
	recorder := &fakeRecorder{}
	return NewQRController(opts, shared, sink, recorder, logger.Nop()), shared, sink, recorder
}

func TestQRControllerForwardsNewQR(t *testing.T) {
	q, _, sink, _ := newTestQRController(QROptions{Throttle: 5 * time.Second, MaxSends: 4, Expires: time.Minute})
	defer q.Clear("s1")

	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)

	qrTasks := sink.byKind(gateway.TaskQR)
	require.Len(t, qrTasks, 1)
	assert.Equal(t, "qr-1", qrTasks[0].QR)

	statusTasks := sink.byKind(gateway.TaskStatus)
	require.Len(t, statusTasks, 1)
	assert.Equal(t, domain.StatusPending, statusTasks[0].Status)

	assert.Equal(t, 1, q.PendingCount())
}

func TestQRControllerIgnoresEmptyAndClosed(t *testing.T) {
	q, _, sink, _ := newTestQRController(QROptions{Throttle: 0, MaxSends: 4, Expires: time.Minute})

	q.Handle(context.Background(), "s1", "", gateway.ConnectionConnecting)
	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionClose)

	assert.Empty(t, sink.byKind(gateway.TaskQR))
	assert.Equal(t, 0, q.PendingCount())
}

func TestQRControllerDedupsIdenticalPayload(t *testing.T) {
	q, _, sink, _ := newTestQRController(QROptions{Throttle: 0, MaxSends: 4, Expires: time.Minute})
	defer q.Clear("s1")

	q.Handle(context.Background(), "s1", "same", gateway.ConnectionConnecting)
	q.Handle(context.Background(), "s1", "same", gateway.ConnectionConnecting)

	assert.Len(t, sink.byKind(gateway.TaskQR), 1)
}

func TestQRControllerThrottlesRapidRotation(t *testing.T) {
	q, _, sink, _ := newTestQRController(QROptions{Throttle: 5 * time.Second, MaxSends: 4, Expires: time.Minute})
	defer q.Clear("s1")

	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)
	q.Handle(context.Background(), "s1", "qr-2", gateway.ConnectionConnecting)

	assert.Len(t, sink.byKind(gateway.TaskQR), 1, "second QR inside throttle window is dropped")
}

func TestQRControllerEnforcesSendCap(t *testing.T) {
	q, _, sink, _ := newTestQRController(QROptions{Throttle: 0, MaxSends: 2, Expires: time.Minute})
	defer q.Clear("s1")

	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)
	q.Handle(context.Background(), "s1", "qr-2", gateway.ConnectionConnecting)
	q.Handle(context.Background(), "s1", "qr-3", gateway.ConnectionConnecting)

	assert.Len(t, sink.byKind(gateway.TaskQR), 2)
}

func TestQRControllerExpiresUnscannedQR(t *testing.T) {
	q, shared, sink, recorder := newTestQRController(QROptions{Throttle: 0, MaxSends: 4, Expires: 30 * time.Millisecond})

	require.NoError(t, shared.SetStatus(context.Background(), "s1", domain.StatusPending))
	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)

	assert.Eventually(t, func() bool {
		return q.PendingCount() == 0
	}, time.Second, 10*time.Millisecond)

	statusTasks := sink.byKind(gateway.TaskStatus)
	require.NotEmpty(t, statusTasks)
	last := statusTasks[len(statusTasks)-1]
	assert.Equal(t, domain.StatusInactive, last.Status)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventQRExpired, events[0].Event)
}

func TestQRControllerExpireSkippedWhenSessionProgressed(t *testing.T) {
	q, shared, _, recorder := newTestQRController(QROptions{Throttle: 0, MaxSends: 4, Expires: 30 * time.Millisecond})

	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)
	require.NoError(t, shared.SetStatus(context.Background(), "s1", domain.StatusActive))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, recorder.all(), "paired session does not emit qr_expired")
}

// flakyStatusCache falha as leituras de status, simulando o Redis fora do ar
type flakyStatusCache struct {
	gateway.SharedCache
}

func (f *flakyStatusCache) GetStatus(ctx context.Context, sessionID string) (domain.ReportedStatus, error) {
	return "", context.DeadlineExceeded
}

func TestQRControllerExpireSkippedOnStatusReadFailure(t *testing.T) {
	shared := &flakyStatusCache{SharedCache: cache.NewMemoryCache()}
	sink := &fakeSink{}
	recorder := &fakeRecorder{}
	q := NewQRController(QROptions{Throttle: 0, MaxSends: 4, Expires: 30 * time.Millisecond}, shared, sink, recorder, logger.Nop())

	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)

	time.Sleep(100 * time.Millisecond)

	// Sem leitura confiável do status, não pode subir inactive
	for _, task := range sink.byKind(gateway.TaskStatus) {
		assert.NotEqual(t, domain.StatusInactive, task.Status)
	}
	assert.Empty(t, recorder.all())
}

func TestQRControllerExpireProceedsOnStatusMiss(t *testing.T) {
	q, _, sink, recorder := newTestQRController(QROptions{Throttle: 0, MaxSends: 4, Expires: 30 * time.Millisecond})

	// Nenhum status gravado: o miss conta como pendente e expira normalmente
	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)

	assert.Eventually(t, func() bool {
		return q.PendingCount() == 0
	}, time.Second, 10*time.Millisecond)

	statusTasks := sink.byKind(gateway.TaskStatus)
	require.NotEmpty(t, statusTasks)
	assert.Equal(t, domain.StatusInactive, statusTasks[len(statusTasks)-1].Status)
	require.Len(t, recorder.all(), 1)
}

func TestQRControllerClearCancelsExpiration(t *testing.T) {
	q, _, _, recorder := newTestQRController(QROptions{Throttle: 0, MaxSends: 4, Expires: 30 * time.Millisecond})

	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)
	q.Clear("s1")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, recorder.all())
	assert.Equal(t, 0, q.PendingCount())
}

func TestQRControllerPendingSessions(t *testing.T) {
	q, _, _, _ := newTestQRController(QROptions{Throttle: 0, MaxSends: 4, Expires: time.Minute})
	defer q.Clear("s1")

	q.Handle(context.Background(), "s1", "qr-1", gateway.ConnectionConnecting)

	assert.Len(t, q.PendingSessions(0), 1)
	assert.Empty(t, q.PendingSessions(time.Hour))
}
