package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// QROptions configura os filtros de emissão de QR
type QROptions struct {
	Throttle time.Duration
	MaxSends int
	Expires  time.Duration
}

// qrState é o estado de pareamento de uma sessão
type qrState struct {
	sendCount    int
	lastQrSentAt time.Time
	inflight     bool
	firstSeenAt  time.Time
	expireTimer  *time.Timer
}

// QRController filtra eventos brutos de QR vindos do fanout do socket
// antes de encaminhá-los ao batcher de saída. Os filtros aplicam, em ordem:
// estado de conexão, cap de envios, de-dup, inflight e throttle.
type QRController struct {
	mu    sync.Mutex
	state map[string]*qrState

	opts   QROptions
	cache  gateway.SharedCache
	sink   gateway.TaskSink
	events gateway.TransitionRecorder
	log    logger.Logger
}

// NewQRController cria o controlador de QR
func NewQRController(opts QROptions, cache gateway.SharedCache, sink gateway.TaskSink, events gateway.TransitionRecorder, log logger.Logger) *QRController {
	return &QRController{
		state:  make(map[string]*qrState),
		opts:   opts,
		cache:  cache,
		sink:   sink,
		events: events,
		log:    log.WithComponent("qr-controller"),
	}
}

// Handle processa um evento de QR; eventos filtrados são descartados em silêncio
func (q *QRController) Handle(ctx context.Context, sessionID, qr string, connState gateway.ConnectionState) {
	if qr == "" || connState == gateway.ConnectionClose {
		return
	}

	q.mu.Lock()
	st, ok := q.state[sessionID]
	if !ok {
		st = &qrState{firstSeenAt: time.Now()}
		q.state[sessionID] = st
	}

	if st.sendCount >= q.opts.MaxSends {
		q.mu.Unlock()
		q.log.Debug().Str("session_id", sessionID).Msg("QR send cap reached, dropping event")
		return
	}
	if st.inflight {
		q.mu.Unlock()
		return
	}
	if !st.lastQrSentAt.IsZero() && time.Since(st.lastQrSentAt) < q.opts.Throttle {
		q.mu.Unlock()
		return
	}
	st.inflight = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		if cur, ok := q.state[sessionID]; ok {
			cur.inflight = false
		}
		q.mu.Unlock()
	}()

	// De-dup via cache compartilhado: dois QRs iguais nunca sobem duas vezes
	isNew, err := q.cache.IsNewQR(ctx, sessionID, qr)
	if err != nil {
		q.log.Warn().Err(err).Str("session_id", sessionID).Msg("QR de-dup check failed, dropping event")
		return
	}
	if !isNew {
		return
	}

	if err := q.cache.SetQR(ctx, sessionID, qr); err != nil {
		q.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to record QR in shared cache")
		return
	}

	q.sink.Enqueue(gateway.OutboundTask{
		Kind:       gateway.TaskQR,
		SessionID:  sessionID,
		QR:         qr,
		Priority:   domain.PriorityNormal,
		EnqueuedAt: time.Now(),
	})
	q.sink.Enqueue(gateway.OutboundTask{
		Kind:       gateway.TaskStatus,
		SessionID:  sessionID,
		Status:     domain.StatusPending,
		Priority:   domain.PriorityNormal,
		EnqueuedAt: time.Now(),
	})

	q.mu.Lock()
	st = q.state[sessionID]
	if st == nil {
		// Clear concorrente venceu; nada a armar
		q.mu.Unlock()
		return
	}
	st.lastQrSentAt = time.Now()
	st.sendCount++
	sends := st.sendCount
	if st.expireTimer != nil {
		st.expireTimer.Stop()
	}
	st.expireTimer = time.AfterFunc(q.opts.Expires, func() {
		q.expire(sessionID)
	})
	q.mu.Unlock()

	q.log.Info().
		Str("session_id", sessionID).
		Int("send_count", sends).
		Msg("QR forwarded to outbound batcher")
}

// expire dispara quando um QR não é escaneado dentro da janela de validade
func (q *QRController) expire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := q.cache.GetStatus(ctx, sessionID)
	if err != nil && !errors.Is(err, gateway.ErrCacheMiss) {
		// Sem leitura confiável do status não dá para afirmar que o
		// pareamento falhou; o próximo varredor de pendentes decide
		q.log.Warn().Err(err).Str("session_id", sessionID).Msg("Status read failed on QR expiry, skipping inactive report")
		return
	}
	if err == nil && status != domain.StatusPending {
		// Sessão progrediu enquanto o timer corria
		return
	}

	q.log.Info().Str("session_id", sessionID).Msg("QR expired without pairing")

	q.sink.Enqueue(gateway.OutboundTask{
		Kind:       gateway.TaskStatus,
		SessionID:  sessionID,
		Status:     domain.StatusInactive,
		Priority:   domain.PriorityNormal,
		EnqueuedAt: time.Now(),
	})
	q.events.RecordTransition(ctx, domain.LifecycleEvent{
		SessionID: sessionID,
		Event:     domain.EventQRExpired,
		Timestamp: time.Now(),
	})

	q.Clear(sessionID)
}

// Clear cancela o timer de expiração e zera o estado de QR da sessão.
// Não toca no socket nem no armazenamento de sessões.
func (q *QRController) Clear(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if st, ok := q.state[sessionID]; ok {
		if st.expireTimer != nil {
			st.expireTimer.Stop()
		}
		delete(q.state, sessionID)
	}
}

// PendingSessions retorna as sessões com QR pendente há mais tempo que o corte
func (q *QRController) PendingSessions(olderThan time.Duration) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []string
	cutoff := time.Now().Add(-olderThan)
	for id, st := range q.state {
		if st.firstSeenAt.Before(cutoff) {
			pending = append(pending, id)
		}
	}
	return pending
}

// PendingCount retorna quantas sessões têm estado de QR vivo
func (q *QRController) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.state)
}
