package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// Options configura o gerenciador de estado
type Options struct {
	LocalTTL      time.Duration
	MissThreshold int
}

// localEntry é uma entrada do cache local de status, com TTL curto
type localEntry struct {
	status    domain.ReportedStatus
	updatedAt time.Time
}

// ResolveOptions controla a resolução de status nas três camadas
type ResolveOptions struct {
	// Accepted define os status considerados "ativos"; default {active}
	Accepted []domain.ReportedStatus
	// ForReconnect pula o cache local e amplia Accepted para {active, connecting}
	ForReconnect bool
	// SkipCache pula apenas a camada local
	SkipCache bool
}

// Manager resolve o status reportado de uma sessão em três camadas:
// mapa local (TTL curto), cache compartilhado e, por fim, o control plane.
// Valores resolvidos são escritos de volta nas camadas superiores.
// Também implementa gateway.TransitionRecorder.
type Manager struct {
	mu     sync.Mutex
	local  map[string]localEntry
	misses map[string]int

	localHits  int64
	sharedHits int64
	planeHits  int64

	opts  Options
	cache gateway.SharedCache
	plane gateway.ControlPlane
	sink  gateway.TaskSink
	log   logger.Logger
}

// NewManager cria o gerenciador de estado multinível
func NewManager(opts Options, cache gateway.SharedCache, plane gateway.ControlPlane, sink gateway.TaskSink, log logger.Logger) *Manager {
	return &Manager{
		local:  make(map[string]localEntry),
		misses: make(map[string]int),
		opts:   opts,
		cache:  cache,
		plane:  plane,
		sink:   sink,
		log:    log.WithComponent("state-manager"),
	}
}

// ResolveStatus percorre as camadas em ordem e retorna o status encontrado.
// Retorna erro quando nenhuma camada resolve.
func (m *Manager) ResolveStatus(ctx context.Context, sessionID string, opts ResolveOptions) (domain.ReportedStatus, error) {
	if !opts.SkipCache && !opts.ForReconnect {
		if status, ok := m.readLocal(sessionID); ok {
			m.countHit(&m.localHits)
			return status, nil
		}
	}

	if status, err := m.cache.GetStatus(ctx, sessionID); err == nil {
		m.countHit(&m.sharedHits)
		m.writeLocal(sessionID, status)
		return status, nil
	} else if !errors.Is(err, gateway.ErrCacheMiss) {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Shared cache read failed, falling through to control plane")
	}

	token, err := m.WebhookTokenFor(ctx, sessionID)
	if err != nil {
		return "", err
	}

	status, err := m.plane.StatusByToken(ctx, token)
	if err != nil {
		return "", err
	}

	m.countHit(&m.planeHits)
	if err := m.cache.SetStatus(ctx, sessionID, status); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to write status back to shared cache")
	}
	m.writeLocal(sessionID, status)
	return status, nil
}

func (m *Manager) countHit(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

// CacheStats é um snapshot da resolução de status por camada
type CacheStats struct {
	LocalEntries int   `json:"localEntries"`
	LocalHits    int64 `json:"localHits"`
	SharedHits   int64 `json:"sharedHits"`
	PlaneHits    int64 `json:"planeHits"`
}

// Stats retorna os contadores de acerto por camada
func (m *Manager) Stats() CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CacheStats{
		LocalEntries: len(m.local),
		LocalHits:    m.localHits,
		SharedHits:   m.sharedHits,
		PlaneHits:    m.planeHits,
	}
}

// IsSessionActiveOpts verifica se o status resolvido está entre os aceitos
func (m *Manager) IsSessionActiveOpts(ctx context.Context, sessionID string, opts ResolveOptions) bool {
	status, err := m.ResolveStatus(ctx, sessionID, opts)
	if err != nil {
		m.log.Debug().Err(err).Str("session_id", sessionID).Msg("Status resolution failed, treating session as not active")
		return false
	}

	accepted := opts.Accepted
	if len(accepted) == 0 {
		accepted = []domain.ReportedStatus{domain.StatusActive}
		if opts.ForReconnect {
			accepted = append(accepted, domain.StatusConnecting)
		}
	}

	for _, s := range accepted {
		if status == s {
			return true
		}
	}
	return false
}

// IsSessionActive é a forma usada pelo worker de reconexão: pula o cache
// local e só aceita "active"
func (m *Manager) IsSessionActive(ctx context.Context, sessionID string, forReconnect bool) bool {
	return m.IsSessionActiveOpts(ctx, sessionID, ResolveOptions{
		Accepted:     []domain.ReportedStatus{domain.StatusActive},
		ForReconnect: forReconnect,
	})
}

// UpdateSessionStatus escreve o status nas camadas locais e enfileira a
// propagação ao control plane via batcher
func (m *Manager) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.ReportedStatus, priority domain.Priority) {
	m.writeLocal(sessionID, status)

	if err := m.cache.SetStatus(ctx, sessionID, status); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to write status to shared cache")
	}

	m.sink.Enqueue(gateway.OutboundTask{
		Kind:       gateway.TaskStatus,
		SessionID:  sessionID,
		Status:     status,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	})
}

// RecordTransition implementa gateway.TransitionRecorder: alimenta o ring
// do cache compartilhado e o lote de ciclo de vida
func (m *Manager) RecordTransition(ctx context.Context, ev domain.LifecycleEvent) {
	if err := m.cache.PushTransition(ctx, ev); err != nil {
		m.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("Failed to push transition to shared cache")
	}

	evCopy := ev
	m.sink.Enqueue(gateway.OutboundTask{
		Kind:       gateway.TaskLifecycle,
		SessionID:  ev.SessionID,
		Lifecycle:  &evCopy,
		Priority:   domain.PriorityNormal,
		EnqueuedAt: time.Now(),
	})
}

// WebhookTokenFor resolve o webhook token da sessão, preferindo o cache
// de session-info e caindo para o control plane
func (m *Manager) WebhookTokenFor(ctx context.Context, sessionID string) (string, error) {
	if info, err := m.cache.GetSessionInfo(ctx, sessionID); err == nil {
		if token := info["webhook_token"]; token != "" {
			return token, nil
		}
	}

	token, err := m.plane.WebhookToken(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if err := m.cache.SetSessionInfo(ctx, sessionID, map[string]string{"webhook_token": token}); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to cache webhook token")
	}
	return token, nil
}

// RecordMiss incrementa o contador de divergências da sessão (o processo
// a considera viva mas o control plane não). Retorna o total acumulado.
func (m *Manager) RecordMiss(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses[sessionID]++
	return m.misses[sessionID]
}

// ResetMiss zera o contador de divergências da sessão
func (m *Manager) ResetMiss(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.misses, sessionID)
}

// ShouldEvict informa se a sessão acumulou divergências suficientes para
// ser removida pelo janitor de heartbeat
func (m *Manager) ShouldEvict(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.misses[sessionID] >= m.opts.MissThreshold
}

// Forget descarta todo o estado local da sessão
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.local, sessionID)
	delete(m.misses, sessionID)
	m.mu.Unlock()
}

func (m *Manager) readLocal(sessionID string) (domain.ReportedStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.local[sessionID]
	if !ok || time.Since(entry.updatedAt) > m.opts.LocalTTL {
		return "", false
	}
	return entry.status, true
}

func (m *Manager) writeLocal(sessionID string, status domain.ReportedStatus) {
	m.mu.Lock()
	m.local[sessionID] = localEntry{status: status, updatedAt: time.Now()}
	m.mu.Unlock()
}
