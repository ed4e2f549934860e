package session

import (
	"context"

	domain "zapgate/internal/domain/session"
	"zapgate/internal/infra/whatsapp/connection"
	"zapgate/internal/infra/whatsapp/core"
	sessionstore "zapgate/internal/infra/whatsapp/session"
	"zapgate/internal/infra/whatsapp/state"
	"zapgate/pkg/logger"
)

// CleanupResponse informa quantas sessões a limpeza removeu
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// CleanupInactiveUseCase remove sob demanda as sessões que o control plane
// já não reconhece como ativas
type CleanupInactiveUseCase struct {
	store   *sessionstore.Store
	state   *state.Manager
	manager *core.Manager
	logger  logger.Logger
}

// NewCleanupInactiveUseCase cria uma nova instância do caso de uso
func NewCleanupInactiveUseCase(store *sessionstore.Store, st *state.Manager, manager *core.Manager, log logger.Logger) *CleanupInactiveUseCase {
	return &CleanupInactiveUseCase{
		store:   store,
		state:   st,
		manager: manager,
		logger:  log.WithComponent("cleanup-inactive-usecase"),
	}
}

// Execute consulta o status real de cada sessão viva, ignorando caches,
// e remove as que não estão mais ativas
func (uc *CleanupInactiveUseCase) Execute(ctx context.Context) (*CleanupResponse, error) {
	removed := 0
	for _, rec := range uc.store.List() {
		if uc.state.IsSessionActiveOpts(ctx, rec.ID, state.ResolveOptions{
			SkipCache: true,
			Accepted:  []domain.ReportedStatus{domain.StatusActive, domain.StatusConnecting, domain.StatusPending},
		}) {
			continue
		}

		uc.logger.WithField("sessionId", rec.ID).Info().Msg("Removing inactive session")
		if err := uc.manager.RemoveSession(ctx, rec.ID, false); err != nil {
			uc.logger.WithError(err).WithField("sessionId", rec.ID).Error().Msg("Failed to remove inactive session")
			continue
		}
		removed++
	}

	return &CleanupResponse{Removed: removed}, nil
}

// CleanupPendingUseCase remove sob demanda as sessões paradas em pareamento
type CleanupPendingUseCase struct {
	qr      *connection.QRController
	state   *state.Manager
	manager *core.Manager
	logger  logger.Logger
}

// NewCleanupPendingUseCase cria uma nova instância do caso de uso
func NewCleanupPendingUseCase(qr *connection.QRController, st *state.Manager, manager *core.Manager, log logger.Logger) *CleanupPendingUseCase {
	return &CleanupPendingUseCase{
		qr:      qr,
		state:   st,
		manager: manager,
		logger:  log.WithComponent("cleanup-pending-usecase"),
	}
}

// Execute remove toda sessão com QR pendente, independente da idade
func (uc *CleanupPendingUseCase) Execute(ctx context.Context) (*CleanupResponse, error) {
	removed := 0
	for _, sessionID := range uc.qr.PendingSessions(0) {
		uc.logger.WithField("sessionId", sessionID).Info().Msg("Removing pending session")
		uc.state.UpdateSessionStatus(ctx, sessionID, domain.StatusInactive, domain.PriorityNormal)
		if err := uc.manager.RemoveSession(ctx, sessionID, false); err != nil {
			uc.logger.WithError(err).WithField("sessionId", sessionID).Error().Msg("Failed to remove pending session")
			continue
		}
		removed++
	}

	return &CleanupResponse{Removed: removed}, nil
}
