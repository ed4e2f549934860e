package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"zapgate/internal/domain/message"
)

// inboundRepository implementa message.InboundRepository sobre PostgreSQL.
// A fila é durável: jobs em andamento sobrevivem a restarts do processo.
type inboundRepository struct {
	db *bun.DB
}

// NewInboundRepository cria o repositório da fila durável de entrada
func NewInboundRepository(db *bun.DB) message.InboundRepository {
	return &inboundRepository{db: db}
}

// Insert adiciona um novo job à fila
func (r *inboundRepository) Insert(ctx context.Context, job *message.InboundJob) error {
	now := time.Now()
	job.Status = message.JobQueued
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = now
	}
	job.UpdatedAt = now

	_, err := r.db.NewInsert().Model(job).Exec(ctx)
	return err
}

// ClaimNext marca o próximo job disponível como ativo e o retorna.
// Usa SELECT ... FOR UPDATE SKIP LOCKED para permitir múltiplos workers
// sem entregar o mesmo job duas vezes.
func (r *inboundRepository) ClaimNext(ctx context.Context, now time.Time) (*message.InboundJob, error) {
	job := new(message.InboundJob)

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(job).
			Where("status = ?", message.JobQueued).
			Where("available_at <= ?", now).
			Order("available_at ASC", "id ASC").
			Limit(1).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return err
		}

		job.Status = message.JobActive
		job.UpdatedAt = now

		_, err = tx.NewUpdate().
			Model(job).
			Column("status", "updated_at").
			Where("id = ?", job.ID).
			Exec(ctx)
		return err
	})

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// Release devolve um job à fila com novo horário de disponibilidade
func (r *inboundRepository) Release(ctx context.Context, id int64, attempts int, availableAt time.Time, lastError string) error {
	_, err := r.db.NewUpdate().
		Model((*message.InboundJob)(nil)).
		Set("status = ?", message.JobQueued).
		Set("attempts = ?", attempts).
		Set("available_at = ?", availableAt).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// MarkFailed marca um job como definitivamente falho (esgotou tentativas)
func (r *inboundRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	now := time.Now()
	_, err := r.db.NewUpdate().
		Model((*message.InboundJob)(nil)).
		Set("status = ?", message.JobFailed).
		Set("last_error = ?", lastError).
		Set("failed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// Delete remove um job processado com sucesso
func (r *inboundRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.NewDelete().
		Model((*message.InboundJob)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// RequeueStale devolve à fila jobs ativos órfãos de um processo anterior
func (r *inboundRepository) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.NewUpdate().
		Model((*message.InboundJob)(nil)).
		Set("status = ?", message.JobQueued).
		Set("updated_at = ?", time.Now()).
		Where("status = ?", message.JobActive).
		Where("updated_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeOld remove jobs falhos antigos da fila
func (r *inboundRepository) PurgeOld(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*message.InboundJob)(nil)).
		Where("status = ?", message.JobFailed).
		Where("updated_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Counts retorna a contagem de jobs por status, para métricas
func (r *inboundRepository) Counts(ctx context.Context) (queued int, active int, failed int, err error) {
	type row struct {
		Status message.JobStatus `bun:"status"`
		Count  int               `bun:"count"`
	}
	var rows []row

	err = r.db.NewSelect().
		Model((*message.InboundJob)(nil)).
		ColumnExpr("status, count(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return 0, 0, 0, err
	}

	for _, rw := range rows {
		switch rw.Status {
		case message.JobQueued:
			queued = rw.Count
		case message.JobActive:
			active = rw.Count
		case message.JobFailed:
			failed = rw.Count
		}
	}
	return queued, active, failed, nil
}
