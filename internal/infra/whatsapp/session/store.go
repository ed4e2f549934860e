package session

import (
	"sync"
	"time"

	domain "zapgate/internal/domain/session"

	"zapgate/internal/domain/gateway"
)

// Record é o estado em memória de uma sessão viva no gateway
type Record struct {
	ID           string
	UserID       string
	WebhookToken string
	Socket       gateway.Socket
	CreatedAt    time.Time
	LastActivity time.Time

	reconnecting bool
}

// Store guarda os registros de sessões ativas do processo.
// Todas as operações são protegidas por mutex; o cap de sessões
// simultâneas é aplicado na inserção.
type Store struct {
	mu          sync.RWMutex
	records     map[string]*Record
	maxSessions int
}

// NewStore cria o armazenamento de sessões com o limite dado
func NewStore(maxSessions int) *Store {
	return &Store{
		records:     make(map[string]*Record),
		maxSessions: maxSessions,
	}
}

// Put registra uma nova sessão; falha quando o ID já existe ou o cap foi atingido
func (s *Store) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return domain.ErrSessionAlreadyExists
	}
	if len(s.records) >= s.maxSessions {
		return domain.ErrMaxSessions
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastActivity = now
	s.records[rec.ID] = rec
	return nil
}

// Get retorna uma cópia do registro de uma sessão, ou nil quando ausente.
// Mutações passam pelos métodos do Store (Rebind, Touch, flags de
// reconexão), nunca pelo registro retornado.
func (s *Store) Get(sessionID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil
	}
	snapshot := *rec
	return &snapshot
}

// Rebind troca o socket da sessão e, quando informados, o usuário e o
// webhook token, tudo sob o lock. Retorna false quando a sessão não existe.
func (s *Store) Rebind(sessionID, userID, webhookToken string, sock gateway.Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return false
	}
	if userID != "" {
		rec.UserID = userID
	}
	if webhookToken != "" {
		rec.WebhookToken = webhookToken
	}
	rec.Socket = sock
	return true
}

// Has verifica se uma sessão existe no armazenamento
func (s *Store) Has(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[sessionID]
	return ok
}

// Remove retira e retorna o registro; nil quando ausente.
// O fechamento do socket e a limpeza de credenciais são do chamador.
func (s *Store) Remove(sessionID string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil
	}
	delete(s.records, sessionID)
	return rec
}

// List retorna um snapshot (cópias) dos registros atuais
func (s *Store) List() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		snapshot := *rec
		out = append(out, &snapshot)
	}
	return out
}

// Len retorna o número de sessões registradas
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Touch atualiza o horário de última atividade da sessão
func (s *Store) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[sessionID]; ok {
		rec.LastActivity = time.Now()
	}
}

// IdleSince retorna as sessões sem atividade desde o horário dado
func (s *Store) IdleSince(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var idle []string
	for id, rec := range s.records {
		if rec.LastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

// TryBeginReconnect marca a sessão como em reconexão. Retorna false
// quando já existe um worker de reconexão ativo para ela, garantindo
// no máximo um worker por sessão.
func (s *Store) TryBeginReconnect(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID]
	if !ok || rec.reconnecting {
		return false
	}
	rec.reconnecting = true
	return true
}

// EndReconnect libera a flag de reconexão da sessão
func (s *Store) EndReconnect(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[sessionID]; ok {
		rec.reconnecting = false
	}
}

// Reconnecting informa se a sessão tem um worker de reconexão ativo
func (s *Store) Reconnecting(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	return ok && rec.reconnecting
}
