package gateway

import (
	"context"
	"errors"
	"time"

	"zapgate/internal/domain/session"
)

// TaskKind identifica o tipo de um OutboundTask
type TaskKind string

const (
	TaskQR        TaskKind = "qr"
	TaskStatus    TaskKind = "status"
	TaskLifecycle TaskKind = "lifecycle"
)

// OutboundTask é uma unidade de trabalho destinada ao control plane
type OutboundTask struct {
	Kind       TaskKind
	SessionID  string
	QR         string
	Status     session.ReportedStatus
	Lifecycle  *session.LifecycleEvent
	Priority   session.Priority
	EnqueuedAt time.Time
}

// TaskSink recebe tarefas de saída; implementado pelo OutboundBatcher
type TaskSink interface {
	Enqueue(task OutboundTask)
}

// ErrCacheMiss indica ausência de valor no cache compartilhado
var ErrCacheMiss = errors.New("cache miss")

// SharedCache é a camada compartilhada (Redis) de estado de sessão.
// TTLs por tipo: qr 60s, status 120s, connection 30s, session-info 300s.
type SharedCache interface {
	SetQR(ctx context.Context, sessionID, qr string) error
	GetQR(ctx context.Context, sessionID string) (string, error)
	// IsNewQR retorna false quando qr é idêntico ao último registrado
	IsNewQR(ctx context.Context, sessionID, qr string) (bool, error)

	SetStatus(ctx context.Context, sessionID string, status session.ReportedStatus) error
	GetStatus(ctx context.Context, sessionID string) (session.ReportedStatus, error)

	SetConnectionState(ctx context.Context, sessionID string, state ConnectionState) error

	SetSessionInfo(ctx context.Context, sessionID string, info map[string]string) error
	GetSessionInfo(ctx context.Context, sessionID string) (map[string]string, error)

	// PushTransition adiciona ao ring de eventos da sessão (cap 50)
	PushTransition(ctx context.Context, ev session.LifecycleEvent) error
	Transitions(ctx context.Context, sessionID string, limit int) ([]session.LifecycleEvent, error)

	Clear(ctx context.Context, sessionID string) error
}

// Account é uma conta ativa retornada pelo control plane na restauração
type Account struct {
	ID           int64  `json:"id"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	WebhookToken string `json:"webhook_token"`
}

// QRBatchItem é um item do POST /qr/batch
type QRBatchItem struct {
	SessionID string `json:"session_id"`
	QR        string `json:"qr"`
}

// StatusBatchItem é um item do POST /whatsapp/status/batch
type StatusBatchItem struct {
	SessionID string `json:"session_id"`
	Status    string `json:"estado_qr"`
}

// WebhookMessage é o corpo multipart entregue ao webhook do tenant
type WebhookMessage struct {
	From      string
	Text      string
	Type      string
	WamID     string
	Timestamp time.Time
	PushName  string
	AudioPath string
}

// ControlPlane define os endpoints do Laravel consumidos pelo núcleo
type ControlPlane interface {
	ActiveAccounts(ctx context.Context) ([]Account, error)
	WebhookToken(ctx context.Context, sessionID string) (string, error)
	StatusByToken(ctx context.Context, webhookToken string) (session.ReportedStatus, error)
	PostQRBatch(ctx context.Context, items []QRBatchItem) error
	PostStatusBatch(ctx context.Context, items []StatusBatchItem) error
	PostLifecycleBatch(ctx context.Context, events []session.LifecycleEvent) error
	PostWebhookMessage(ctx context.Context, webhookToken string, msg WebhookMessage) error
}

// SessionControl é a capacidade mínima que o ConnectionManager recebe
// para iniciar e remover sessões, sem dependência cíclica com o facade
type SessionControl interface {
	StartSession(ctx context.Context, sessionID, userID, webhookToken string) error
	RemoveSession(ctx context.Context, sessionID string, preserveAuth bool) error
	HasSession(sessionID string) bool
}

// LifecycleSink recebe eventos de conexão do fanout de sockets
type LifecycleSink interface {
	OnOpen(sessionID string)
	OnClose(sessionID string, statusCode int)
}

// TransitionRecorder registra eventos de ciclo de vida no ring do cache
// compartilhado e os encaminha ao batcher de saída
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, ev session.LifecycleEvent)
}
