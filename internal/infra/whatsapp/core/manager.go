package core

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	"zapgate/internal/infra/whatsapp/connection"
	sessionstore "zapgate/internal/infra/whatsapp/session"
	"zapgate/pkg/logger"
)

// InboundHandler recebe mensagens normalizadas do fanout de eventos.
// Implementado pelo receiver da fila durável de entrada.
type InboundHandler interface {
	HandleInbound(ctx context.Context, sessionID string, msgs []gateway.InboundMessage)
}

// Manager é o facade do gateway: cria e destrói sessões, conduz o fanout
// de eventos de cada socket e orquestra restauração e shutdown.
// Implementa gateway.SessionControl.
type Manager struct {
	store   *sessionstore.Store
	factory *SocketFactory
	repo    domain.Repository
	cache   gateway.SharedCache
	plane   gateway.ControlPlane
	qr      *connection.QRController
	status  connection.StatusWriter
	inbound InboundHandler
	log     logger.Logger

	mu        sync.Mutex
	lifecycle gateway.LifecycleSink
	pumps     map[string]chan struct{}
}

// NewManager cria o facade do gateway. O LifecycleSink é ligado depois,
// via SetLifecycleSink, para quebrar a dependência circular com o
// gerenciador de conexões.
func NewManager(
	store *sessionstore.Store,
	factory *SocketFactory,
	repo domain.Repository,
	cache gateway.SharedCache,
	plane gateway.ControlPlane,
	qr *connection.QRController,
	status connection.StatusWriter,
	inbound InboundHandler,
	log logger.Logger,
) *Manager {
	return &Manager{
		store:   store,
		factory: factory,
		repo:    repo,
		cache:   cache,
		plane:   plane,
		qr:      qr,
		status:  status,
		inbound: inbound,
		pumps:   make(map[string]chan struct{}),
		log:     log.WithComponent("whatsapp-manager"),
	}
}

// SetLifecycleSink liga o destino dos eventos de conexão
func (m *Manager) SetLifecycleSink(sink gateway.LifecycleSink) {
	m.mu.Lock()
	m.lifecycle = sink
	m.mu.Unlock()
}

// NewSessionID gera um identificador opaco de sessão
func NewSessionID() string {
	return uuid.New().String()
}

// StartSession cria (ou recria) a sessão e conecta o socket. Quando a
// sessão já existe, o socket anterior é fechado e substituído, mantendo
// o mesmo registro — é assim que o worker de reconexão religa a sessão.
func (m *Manager) StartSession(ctx context.Context, sessionID, userID, webhookToken string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	existing := m.store.Get(sessionID)
	if existing != nil && existing.Socket != nil {
		m.stopPump(sessionID)
		existing.Socket.Close()
	}

	sock, err := m.factory.CreateSocket(ctx, sessionID)
	if err != nil {
		return err
	}

	if !m.store.Rebind(sessionID, userID, webhookToken, sock) {
		rec := &sessionstore.Record{
			ID:           sessionID,
			UserID:       userID,
			WebhookToken: webhookToken,
			Socket:       sock,
		}
		if err := m.store.Put(rec); err != nil {
			sock.Close()
			return err
		}
	}

	if err := m.repo.Create(ctx, &domain.Session{
		ID:           sessionID,
		UserID:       userID,
		WebhookToken: webhookToken,
		Status:       string(domain.StatusPending),
	}); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist session metadata")
	}

	if err := m.cache.SetSessionInfo(ctx, sessionID, map[string]string{
		"user_id":       userID,
		"webhook_token": webhookToken,
	}); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to cache session info")
	}

	stop := make(chan struct{})
	m.mu.Lock()
	m.pumps[sessionID] = stop
	m.mu.Unlock()
	go m.pumpEvents(sessionID, sock, stop)

	if err := sock.Connect(); err != nil {
		return domain.NewSessionError(sessionID, "connect", err)
	}

	m.log.Info().
		Str("session_id", sessionID).
		Str("user_id", userID).
		Msg("Session started")
	return nil
}

// RemoveSession desfaz uma sessão: encerra o socket, limpa o estado de QR
// e de cache e, salvo preserveAuth, apaga as credenciais. Idempotente.
func (m *Manager) RemoveSession(ctx context.Context, sessionID string, preserveAuth bool) error {
	m.stopPump(sessionID)

	rec := m.store.Remove(sessionID)
	if rec != nil && rec.Socket != nil {
		rec.Socket.Close()
	}

	m.qr.Clear(sessionID)

	if preserveAuth {
		m.factory.Forget(sessionID)
		m.log.Info().Str("session_id", sessionID).Msg("Session released, credentials preserved")
		return nil
	}

	m.factory.WipeAuth(ctx, sessionID)

	// A desativação precisa subir ao control plane; sem isto o status
	// antigo ficaria visível até o próximo varredor notar a ausência
	if rec != nil {
		m.status.UpdateSessionStatus(ctx, sessionID, domain.StatusInactive, domain.PriorityHigh)
	}

	if err := m.cache.Clear(ctx, sessionID); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to clear shared cache entries")
	}
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete session metadata")
	}

	m.log.Info().Str("session_id", sessionID).Msg("Session removed")
	return nil
}

// HasSession informa se a sessão existe no processo
func (m *Manager) HasSession(sessionID string) bool {
	return m.store.Has(sessionID)
}

// SessionInfo descreve uma sessão para o front-end HTTP
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Exists    bool   `json:"exists"`
	Connected bool   `json:"connected"`
	User      string `json:"user,omitempty"`
}

// Info retorna o estado observável de uma sessão
func (m *Manager) Info(sessionID string) SessionInfo {
	rec := m.store.Get(sessionID)
	if rec == nil || rec.Socket == nil {
		return SessionInfo{SessionID: sessionID}
	}
	return SessionInfo{
		SessionID: sessionID,
		Exists:    true,
		Connected: rec.Socket.Connected() && rec.Socket.LoggedIn(),
		User:      rec.Socket.User(),
	}
}

// List retorna o estado de todas as sessões vivas
func (m *Manager) List() []SessionInfo {
	records := m.store.List()
	out := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, m.Info(rec.ID))
	}
	return out
}

// Socket retorna o socket de uma sessão, para o envio de mensagens
func (m *Manager) Socket(sessionID string) (gateway.Socket, error) {
	rec := m.store.Get(sessionID)
	if rec == nil || rec.Socket == nil {
		return nil, domain.ErrSessionNotFound
	}
	return rec.Socket, nil
}

// RestoreSessions recria as sessões das contas ativas do control plane.
// Falhas individuais não interrompem a restauração das demais.
func (m *Manager) RestoreSessions(ctx context.Context) {
	accounts, err := m.plane.ActiveAccounts(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to fetch active accounts for restoration")
		return
	}

	restored := 0
	for _, acc := range accounts {
		if acc.SessionID == "" {
			continue
		}
		if err := m.StartSession(ctx, acc.SessionID, acc.UserID, acc.WebhookToken); err != nil {
			m.log.Warn().
				Err(err).
				Str("session_id", acc.SessionID).
				Msg("Failed to restore session")
			continue
		}
		restored++
	}

	m.log.Info().
		Int("accounts", len(accounts)).
		Int("restored", restored).
		Msg("Session restoration finished")
}

// Shutdown encerra todas as sessões preservando credenciais
func (m *Manager) Shutdown(ctx context.Context) {
	for _, rec := range m.store.List() {
		if err := m.RemoveSession(ctx, rec.ID, true); err != nil {
			m.log.Warn().Err(err).Str("session_id", rec.ID).Msg("Failed to release session on shutdown")
		}
	}
	m.log.Info().Msg("All sessions released")
}

func (m *Manager) stopPump(sessionID string) {
	m.mu.Lock()
	if stop, ok := m.pumps[sessionID]; ok {
		close(stop)
		delete(m.pumps, sessionID)
	}
	m.mu.Unlock()
}

// pumpEvents é o fanout de eventos de um socket: roteia QRs, transições
// de conexão e mensagens recebidas para os componentes certos
func (m *Manager) pumpEvents(sessionID string, sock gateway.Socket, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-sock.Events():
			if !ok {
				return
			}
			m.dispatch(sessionID, sock, ev)
		}
	}
}

func (m *Manager) dispatch(sessionID string, sock gateway.Socket, ev gateway.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch e := ev.(type) {
	case gateway.ConnectionUpdate:
		if err := m.cache.SetConnectionState(ctx, sessionID, e.State); err != nil {
			m.log.Debug().Err(err).Str("session_id", sessionID).Msg("Failed to cache connection state")
		}

		if e.QR != "" {
			if m.factory.QRTerminal() {
				fmt.Printf("\nQR for session %s:\n", sessionID)
				qrterminal.GenerateHalfBlock(e.QR, qrterminal.L, os.Stdout)
			}
			m.qr.Handle(ctx, sessionID, e.QR, e.State)
			return
		}

		m.mu.Lock()
		sink := m.lifecycle
		m.mu.Unlock()
		if sink == nil {
			return
		}

		switch e.State {
		case gateway.ConnectionOpen:
			m.onOpen(ctx, sessionID, sock)
			sink.OnOpen(sessionID)
		case gateway.ConnectionClose:
			sink.OnClose(sessionID, e.StatusCode)
		}

	case gateway.CredsUpdate:
		m.persistIdentity(ctx, sessionID, sock)

	case gateway.MessagesUpsert:
		m.store.Touch(sessionID)
		if err := m.repo.UpdateActivity(ctx, sessionID, time.Now()); err != nil {
			m.log.Debug().Err(err).Str("session_id", sessionID).Msg("Failed to persist activity timestamp")
		}
		m.inbound.HandleInbound(ctx, sessionID, e.Messages)
	}
}

func (m *Manager) onOpen(ctx context.Context, sessionID string, sock gateway.Socket) {
	m.persistIdentity(ctx, sessionID, sock)
	if err := m.repo.UpdateStatus(ctx, sessionID, domain.StatusActive); err != nil {
		m.log.Debug().Err(err).Str("session_id", sessionID).Msg("Failed to persist active status")
	}
}

// persistIdentity grava o JID pareado no snapshot de credenciais e no banco
func (m *Manager) persistIdentity(ctx context.Context, sessionID string, sock gateway.Socket) {
	user := sock.User()
	if user == "" {
		return
	}

	jid := user + "@s.whatsapp.net"
	if err := m.factory.PersistCreds(sessionID, jid); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist credential snapshot")
	}
	if err := m.repo.UpdateJID(ctx, sessionID, jid); err != nil {
		m.log.Debug().Err(err).Str("session_id", sessionID).Msg("Failed to persist session JID")
	}
}

var _ gateway.SessionControl = (*Manager)(nil)
