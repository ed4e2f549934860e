package session

import (
	"context"

	domain "zapgate/internal/domain/session"
	"zapgate/internal/infra/whatsapp/core"
	"zapgate/pkg/logger"
)

// GetSessionUseCase implementa o caso de uso para consultar uma sessão
type GetSessionUseCase struct {
	manager *core.Manager
	logger  logger.Logger
}

// NewGetSessionUseCase cria uma nova instância do caso de uso
func NewGetSessionUseCase(manager *core.Manager, log logger.Logger) *GetSessionUseCase {
	return &GetSessionUseCase{
		manager: manager,
		logger:  log.WithComponent("get-session-usecase"),
	}
}

// Execute retorna o estado observável de uma sessão viva
func (uc *GetSessionUseCase) Execute(ctx context.Context, sessionID string) (*core.SessionInfo, error) {
	info := uc.manager.Info(sessionID)
	if !info.Exists {
		return nil, domain.ErrSessionNotFound
	}
	return &info, nil
}
