package session

import (
	"context"

	"github.com/go-playground/validator/v10"

	"zapgate/internal/infra/whatsapp/core"
	"zapgate/pkg/logger"
)

// StartSessionUseCase implementa o caso de uso para iniciar uma sessão
type StartSessionUseCase struct {
	manager  *core.Manager
	factory  *core.SocketFactory
	validate *validator.Validate
	logger   logger.Logger
}

// NewStartSessionUseCase cria uma nova instância do caso de uso
func NewStartSessionUseCase(manager *core.Manager, factory *core.SocketFactory, log logger.Logger) *StartSessionUseCase {
	return &StartSessionUseCase{
		manager:  manager,
		factory:  factory,
		validate: validator.New(),
		logger:   log.WithComponent("start-session-usecase"),
	}
}

// StartSessionRequest representa os dados para iniciar uma sessão
type StartSessionRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	WebhookToken string `json:"webhook_token" validate:"required"`
	SessionID    string `json:"session_id,omitempty"`
}

// StartSessionResponse é a resposta da criação de sessão
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

// Execute inicia (ou reinicia) uma sessão. Quando o chamador informa um
// session_id, as credenciais antigas daquele ID são descartadas para forçar
// um pareamento novo; sem session_id, um identificador novo é gerado.
func (uc *StartSessionUseCase) Execute(ctx context.Context, req StartSessionRequest) (*StartSessionResponse, error) {
	if err := uc.validate.Struct(req); err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = core.NewSessionID()
	} else {
		uc.factory.WipeAuth(ctx, sessionID)
	}

	uc.logger.WithFields(map[string]interface{}{
		"sessionId": sessionID,
		"userId":    req.UserID,
	}).Info().Msg("Starting session")

	if err := uc.manager.StartSession(ctx, sessionID, req.UserID, req.WebhookToken); err != nil {
		uc.logger.WithError(err).WithField("sessionId", sessionID).Error().Msg("Failed to start session")
		return nil, err
	}

	return &StartSessionResponse{SessionID: sessionID}, nil
}
