package message

import (
	"context"

	"github.com/go-playground/validator/v10"

	"zapgate/internal/domain/message"
	"zapgate/internal/infra/whatsapp/outbound"
	"zapgate/pkg/logger"
)

// SendMessageUseCase implementa o caso de uso de envio de mensagens
type SendMessageUseCase struct {
	sender   *outbound.Sender
	validate *validator.Validate
	logger   logger.Logger
}

// NewSendMessageUseCase cria uma nova instância do caso de uso
func NewSendMessageUseCase(sender *outbound.Sender, log logger.Logger) *SendMessageUseCase {
	return &SendMessageUseCase{
		sender:   sender,
		validate: validator.New(),
		logger:   log.WithComponent("send-message-usecase"),
	}
}

// Execute valida e despacha um envio tipado
func (uc *SendMessageUseCase) Execute(ctx context.Context, req message.SendRequest) (*message.SendResult, error) {
	if err := uc.validate.Struct(req); err != nil {
		return nil, err
	}

	result, err := uc.sender.Send(ctx, req)
	if err != nil {
		uc.logger.WithError(err).WithFields(map[string]interface{}{
			"sessionId": req.SessionID,
			"type":      req.Type,
		}).Error().Msg("Failed to send message")
		return nil, err
	}

	uc.logger.WithFields(map[string]interface{}{
		"sessionId": req.SessionID,
		"type":      req.Type,
		"wamId":     result.WamID,
	}).Info().Msg("Message sent")
	return result, nil
}

// LegacySendRequest é o corpo do endpoint legado de envio de texto
type LegacySendRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	To        string `json:"to" validate:"required"`
	Message   string `json:"message" validate:"required"`
}

// ExecuteLegacy atende o formato antigo, mapeando-o para um envio de texto
func (uc *SendMessageUseCase) ExecuteLegacy(ctx context.Context, req LegacySendRequest) (*message.SendResult, error) {
	if err := uc.validate.Struct(req); err != nil {
		return nil, err
	}

	return uc.Execute(ctx, message.SendRequest{
		SessionID: req.SessionID,
		WaID:      req.To,
		Type:      message.TypeText,
		Body:      req.Message,
	})
}
