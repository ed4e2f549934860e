package session

import (
	"context"

	"zapgate/internal/infra/whatsapp/core"
	"zapgate/internal/infra/whatsapp/state"
	"zapgate/pkg/logger"
)

// DeleteSessionUseCase implementa o caso de uso para remover uma sessão
type DeleteSessionUseCase struct {
	manager *core.Manager
	state   *state.Manager
	logger  logger.Logger
}

// NewDeleteSessionUseCase cria uma nova instância do caso de uso
func NewDeleteSessionUseCase(manager *core.Manager, st *state.Manager, log logger.Logger) *DeleteSessionUseCase {
	return &DeleteSessionUseCase{
		manager: manager,
		state:   st,
		logger:  log.WithComponent("delete-session-usecase"),
	}
}

// Execute remove a sessão, suas credenciais e todo o estado em cache.
// É idempotente: remover uma sessão inexistente não é erro.
func (uc *DeleteSessionUseCase) Execute(ctx context.Context, sessionID string) error {
	uc.logger.WithField("sessionId", sessionID).Info().Msg("Deleting session")

	if err := uc.manager.RemoveSession(ctx, sessionID, false); err != nil {
		uc.logger.WithError(err).WithField("sessionId", sessionID).Error().Msg("Failed to delete session")
		return err
	}

	uc.state.Forget(sessionID)
	return nil
}
