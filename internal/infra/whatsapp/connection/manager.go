package connection

import (
	"context"
	"time"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	sessionstore "zapgate/internal/infra/whatsapp/session"
	"zapgate/pkg/logger"
)

// StatusWriter publica mudanças de status reportado (write-through no cache
// compartilhado + enfileiramento no batcher). Implementado pelo StateManager.
type StatusWriter interface {
	UpdateSessionStatus(ctx context.Context, sessionID string, status domain.ReportedStatus, priority domain.Priority)
}

// ActivityProbe consulta se uma sessão está ativa do ponto de vista do
// control plane. Implementado pelo StateManager.
type ActivityProbe interface {
	IsSessionActive(ctx context.Context, sessionID string, forReconnect bool) bool
}

// Manager reage a eventos de conexão dos sockets: limpa estado de QR na
// abertura, classifica desconexões e conduz o worker de reconexão em duas
// fases. Implementa gateway.LifecycleSink.
type Manager struct {
	store   *sessionstore.Store
	qr      *QRController
	policy  BackoffPolicy
	status  StatusWriter
	probe   ActivityProbe
	control gateway.SessionControl
	events  gateway.TransitionRecorder
	log     logger.Logger
}

// NewManager cria o gerenciador de conexões
func NewManager(
	store *sessionstore.Store,
	qr *QRController,
	policy BackoffPolicy,
	status StatusWriter,
	probe ActivityProbe,
	control gateway.SessionControl,
	events gateway.TransitionRecorder,
	log logger.Logger,
) *Manager {
	return &Manager{
		store:   store,
		qr:      qr,
		policy:  policy,
		status:  status,
		probe:   probe,
		control: control,
		events:  events,
		log:     log.WithComponent("connection-manager"),
	}
}

// OnOpen trata a transição para conexão aberta
func (m *Manager) OnOpen(sessionID string) {
	ctx := context.Background()

	m.qr.Clear(sessionID)
	m.store.Touch(sessionID)

	m.emitLifecycle(sessionID, domain.EventSessionOpen, nil)
	m.status.UpdateSessionStatus(ctx, sessionID, domain.StatusActive, domain.PriorityHigh)

	m.log.Info().Str("session_id", sessionID).Msg("Session connection open")
}

// OnClose trata uma desconexão, classificando pelo statusCode
func (m *Manager) OnClose(sessionID string, statusCode int) {
	ctx := context.Background()

	if gateway.IsFatalDisconnect(statusCode) {
		m.log.Warn().
			Str("session_id", sessionID).
			Int("status_code", statusCode).
			Msg("Fatal disconnect, evicting session")

		m.emitLifecycle(sessionID, domain.EventSessionClosedNoReconn, map[string]any{"statusCode": statusCode})
		m.status.UpdateSessionStatus(ctx, sessionID, domain.StatusInactive, domain.PriorityHigh)

		if err := m.control.RemoveSession(ctx, sessionID, false); err != nil {
			m.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to evict session after fatal disconnect")
		}
		return
	}

	if !m.store.TryBeginReconnect(sessionID) {
		// Já existe um worker de reconexão para esta sessão
		return
	}

	m.status.UpdateSessionStatus(ctx, sessionID, domain.StatusConnecting, domain.PriorityNormal)

	m.log.Info().
		Str("session_id", sessionID).
		Int("status_code", statusCode).
		Msg("Connection closed, starting reconnect worker")

	go m.reconnectLoop(sessionID)
}

// reconnectLoop é o worker de reconexão: fase rápida exponencial seguida
// da fase de resiliência com relógio máximo. No máximo um por sessão.
func (m *Manager) reconnectLoop(sessionID string) {
	defer m.store.EndReconnect(sessionID)

	start := time.Now()
	var resilienceStart time.Time

	for attempt := 1; ; attempt++ {
		delay, mode := m.policy.NextDelay(attempt)
		if mode == domain.ReconnectResilience && resilienceStart.IsZero() {
			resilienceStart = time.Now()
		}

		if m.policy.Exhausted(resilienceStart, time.Now()) {
			m.exhaust(sessionID, attempt, time.Since(start))
			return
		}

		time.Sleep(delay)

		// Cancelamento cooperativo: DeleteSession limpa a flag e o registro
		if !m.store.Reconnecting(sessionID) || !m.store.Has(sessionID) {
			m.log.Debug().Str("session_id", sessionID).Msg("Reconnect worker cancelled")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		// Outra instância pode já ter reativado a sessão
		if m.probe.IsSessionActive(ctx, sessionID, true) {
			cancel()
			m.emitLifecycle(sessionID, domain.EventReconnectAbortedActive, map[string]any{"attempt": attempt})
			m.log.Info().Str("session_id", sessionID).Msg("Reconnect aborted, session already active upstream")
			return
		}

		rec := m.store.Get(sessionID)
		if rec == nil {
			cancel()
			return
		}

		m.emitLifecycle(sessionID, domain.EventReconnectAttempt, map[string]any{
			"attempt": attempt,
			"mode":    string(mode),
		})

		err := m.control.StartSession(ctx, sessionID, rec.UserID, rec.WebhookToken)
		cancel()

		if err == nil {
			m.emitLifecycle(sessionID, domain.EventReconnectSuccess, map[string]any{
				"attempt":   attempt,
				"elapsedMs": time.Since(start).Milliseconds(),
			})
			m.log.Info().
				Str("session_id", sessionID).
				Int("attempt", attempt).
				Dur("elapsed", time.Since(start)).
				Msg("Reconnect succeeded")
			return
		}

		m.log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Int("attempt", attempt).
			Str("mode", string(mode)).
			Msg("Reconnect attempt failed")
	}
}

// exhaust encerra a sessão após o estouro do relógio de resiliência
func (m *Manager) exhaust(sessionID string, attempts int, elapsed time.Duration) {
	ctx := context.Background()

	m.emitLifecycle(sessionID, domain.EventReconnectExhausted, map[string]any{
		"attempts":  attempts,
		"elapsedMs": elapsed.Milliseconds(),
	})
	m.status.UpdateSessionStatus(ctx, sessionID, domain.StatusInactive, domain.PriorityHigh)

	if err := m.control.RemoveSession(ctx, sessionID, false); err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to evict session after reconnect exhaustion")
	}

	m.log.Warn().
		Str("session_id", sessionID).
		Int("attempts", attempts).
		Dur("elapsed", elapsed).
		Msg("Reconnect exhausted, session evicted")
}

func (m *Manager) emitLifecycle(sessionID, event string, meta map[string]any) {
	m.events.RecordTransition(context.Background(), domain.LifecycleEvent{
		SessionID: sessionID,
		Event:     event,
		Meta:      meta,
		Timestamp: time.Now(),
	})
}
