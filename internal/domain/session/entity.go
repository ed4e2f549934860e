package session

import (
	"time"

	"github.com/uptrace/bun"
)

// ReportedStatus representa o estado da sessão visível ao control plane
type ReportedStatus string

const (
	StatusPending    ReportedStatus = "pending"
	StatusActive     ReportedStatus = "active"
	StatusConnecting ReportedStatus = "connecting"
	StatusInactive   ReportedStatus = "inactive"
)

// IsValidStatus verifica se um status reportado é válido
func IsValidStatus(status ReportedStatus) bool {
	switch status {
	case StatusPending, StatusActive, StatusConnecting, StatusInactive:
		return true
	default:
		return false
	}
}

// Priority define a prioridade de entrega de um evento ao control plane
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// ReconnectMode identifica a fase da política de reconexão
type ReconnectMode string

const (
	ReconnectNone       ReconnectMode = "none"
	ReconnectFast       ReconnectMode = "fast"
	ReconnectResilience ReconnectMode = "resilience"
)

// ReconnectState acompanha o progresso da reconexão de uma sessão
type ReconnectState struct {
	Attempts    int           `json:"attempts"`
	ScheduledAt *time.Time    `json:"scheduledAt,omitempty"`
	Mode        ReconnectMode `json:"mode"`
}

// Session representa os metadados persistidos de uma sessão do gateway
type Session struct {
	bun.BaseModel `bun:"table:zapgate_sessions,alias:s"`

	ID              string     `bun:"id,pk,type:varchar(64)" json:"sessionId"`
	UserID          string     `bun:"user_id,type:varchar(64),notnull" json:"userId"`
	WebhookToken    string     `bun:"webhook_token,type:varchar(128),notnull" json:"-"`
	WaJID           string     `bun:"wa_jid,type:varchar(100)" json:"waJid,omitempty"`
	Status          string     `bun:"status,type:varchar(20),notnull" json:"status"`
	LastActivityAt  time.Time  `bun:"last_activity_at,type:timestamptz" json:"lastActivityAt"`
	LastHeartbeatAt *time.Time `bun:"last_heartbeat_at,type:timestamptz" json:"lastHeartbeatAt,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,type:timestamptz,notnull" json:"createdAt"`
	UpdatedAt       time.Time  `bun:"updated_at,type:timestamptz,notnull" json:"updatedAt"`
}

// LifecycleEvent é uma entrada do log append-only de transições de sessão
type LifecycleEvent struct {
	SessionID string         `json:"sessionId"`
	Event     string         `json:"event"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Eventos de ciclo de vida conhecidos
const (
	EventSessionOpen            = "session_open"
	EventSessionClosedNoReconn  = "session_closed_no_reconnect"
	EventReconnectAttempt       = "reconnect_attempt"
	EventReconnectSuccess       = "reconnect_success"
	EventReconnectAbortedActive = "reconnect_aborted_active"
	EventReconnectExhausted     = "reconnect_exhausted"
	EventQRExpired              = "qr_expired"
)
