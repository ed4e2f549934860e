package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"zapgate/internal/domain/session"
)

// sessionRepository implementa a interface session.Repository
type sessionRepository struct {
	db *bun.DB
}

// NewSessionRepository cria uma nova instância do repositório de sessões
func NewSessionRepository(db *bun.DB) session.Repository {
	return &sessionRepository{db: db}
}

// Create cria uma nova sessão no banco de dados
func (r *sessionRepository) Create(ctx context.Context, sess *session.Session) error {
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.LastActivityAt = now
	if sess.Status == "" {
		sess.Status = string(session.StatusPending)
	}

	_, err := r.db.NewInsert().
		Model(sess).
		On("CONFLICT (id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("webhook_token = EXCLUDED.webhook_token").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// GetByID busca uma sessão pelo ID
func (r *sessionRepository) GetByID(ctx context.Context, id string) (*session.Session, error) {
	sess := new(session.Session)
	err := r.db.NewSelect().Model(sess).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List retorna todas as sessões
func (r *sessionRepository) List(ctx context.Context) ([]*session.Session, error) {
	var sessions []*session.Session
	err := r.db.NewSelect().Model(&sessions).Order("created_at DESC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Update atualiza uma sessão existente
func (r *sessionRepository) Update(ctx context.Context, sess *session.Session) error {
	sess.UpdatedAt = time.Now()

	_, err := r.db.NewUpdate().
		Model(sess).
		Where("id = ?", sess.ID).
		Exec(ctx)

	return err
}

// Delete remove uma sessão do banco de dados
func (r *sessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*session.Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)

	return err
}

// UpdateStatus atualiza apenas o status de uma sessão
func (r *sessionRepository) UpdateStatus(ctx context.Context, id string, status session.ReportedStatus) error {
	_, err := r.db.NewUpdate().
		Model((*session.Session)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)

	return err
}

// UpdateJID atualiza o JID pareado de uma sessão
func (r *sessionRepository) UpdateJID(ctx context.Context, id string, waJID string) error {
	now := time.Now()
	_, err := r.db.NewUpdate().
		Model((*session.Session)(nil)).
		Set("wa_jid = ?", waJID).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)

	return err
}

// UpdateActivity atualiza o horário da última atividade da sessão
func (r *sessionRepository) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*session.Session)(nil)).
		Set("last_activity_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)

	return err
}

// UpdateHeartbeat atualiza o horário do último heartbeat bem-sucedido
func (r *sessionRepository) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*session.Session)(nil)).
		Set("last_heartbeat_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)

	return err
}
