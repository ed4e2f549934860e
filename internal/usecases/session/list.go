package session

import (
	"context"

	"zapgate/internal/infra/whatsapp/connection"
	"zapgate/internal/infra/whatsapp/core"
	"zapgate/pkg/logger"
)

// ListSessionsUseCase implementa o caso de uso para listar as sessões vivas
type ListSessionsUseCase struct {
	manager *core.Manager
	qr      *connection.QRController
	logger  logger.Logger
}

// NewListSessionsUseCase cria uma nova instância do caso de uso
func NewListSessionsUseCase(manager *core.Manager, qr *connection.QRController, log logger.Logger) *ListSessionsUseCase {
	return &ListSessionsUseCase{
		manager: manager,
		qr:      qr,
		logger:  log.WithComponent("list-sessions-usecase"),
	}
}

// ListSessionsResponse agrega a lista de sessões e diagnósticos de pareamento
type ListSessionsResponse struct {
	Sessions  []core.SessionInfo `json:"sessions"`
	Total     int                `json:"total"`
	PendingQR int                `json:"pendingQr"`
}

// Execute lista as sessões do processo e quantas aguardam leitura de QR
func (uc *ListSessionsUseCase) Execute(ctx context.Context) (*ListSessionsResponse, error) {
	sessions := uc.manager.List()
	return &ListSessionsResponse{
		Sessions:  sessions,
		Total:     len(sessions),
		PendingQR: uc.qr.PendingCount(),
	}, nil
}
