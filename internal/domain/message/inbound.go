package message

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// JobStatus representa o estado de um job na fila durável
type JobStatus string

const (
	JobQueued JobStatus = "queued"
	JobActive JobStatus = "active"
	JobFailed JobStatus = "failed"
)

// InboundJob é uma mensagem recebida aguardando processamento.
// O payload é a InboundMessage normalizada serializada em JSON, para que
// jobs em andamento sobrevivam a um restart do processo.
type InboundJob struct {
	bun.BaseModel `bun:"table:zapgate_inbound_jobs,alias:j"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	SessionID   string     `bun:"session_id,type:varchar(64),notnull" json:"sessionId"`
	Payload     []byte     `bun:"payload,type:jsonb,notnull" json:"-"`
	Attempts    int        `bun:"attempts,notnull,default:0" json:"attempts"`
	Status      JobStatus  `bun:"status,type:varchar(16),notnull,default:'queued'" json:"status"`
	LastError   string     `bun:"last_error,type:text" json:"lastError,omitempty"`
	AvailableAt time.Time  `bun:"available_at,type:timestamptz,notnull" json:"availableAt"`
	ReceivedAt  time.Time  `bun:"received_at,type:timestamptz,notnull" json:"receivedAt"`
	UpdatedAt   time.Time  `bun:"updated_at,type:timestamptz,notnull" json:"updatedAt"`
	FailedAt    *time.Time `bun:"failed_at,type:timestamptz" json:"failedAt,omitempty"`
}

// InboundRepository define a persistência da fila durável de entrada
type InboundRepository interface {
	Insert(ctx context.Context, job *InboundJob) error
	// ClaimNext marca o próximo job disponível como ativo e o retorna;
	// retorna nil quando a fila está vazia
	ClaimNext(ctx context.Context, now time.Time) (*InboundJob, error)
	// Release devolve um job à fila com novo horário de disponibilidade
	Release(ctx context.Context, id int64, attempts int, availableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	Delete(ctx context.Context, id int64) error
	// Requeue volta jobs ativos para a fila (usado na inicialização,
	// para jobs órfãos de um processo anterior)
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)
	PurgeOld(ctx context.Context, olderThan time.Time) (int, error)
	Counts(ctx context.Context) (queued int, active int, failed int, err error)
}
