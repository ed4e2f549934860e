package handlers

import (
	"encoding/json"
	"net/http"

	domain "zapgate/internal/domain/message"
	"zapgate/internal/http/responses"
	"zapgate/internal/usecases/message"
	"zapgate/pkg/logger"
)

// MessageHandler implementa os handlers de envio de mensagens
type MessageHandler struct {
	sendUseCase *message.SendMessageUseCase
	logger      logger.Logger
}

// NewMessageHandler cria uma nova instância do message handler
func NewMessageHandler(sendUseCase *message.SendMessageUseCase, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		sendUseCase: sendUseCase,
		logger:      log.WithComponent("message-handler"),
	}
}

// SendMessage envia uma mensagem tipada (texto ou mídia)
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.BadRequest(w, "Corpo da requisição inválido", err.Error())
		return
	}

	result, err := h.sendUseCase.Execute(r.Context(), req)
	if err != nil {
		responses.DomainError(w, "Falha ao enviar mensagem", err)
		return
	}

	responses.Success(w, "Mensagem enviada", result)
}

// SendLegacy atende o formato antigo de envio de texto
func (h *MessageHandler) SendLegacy(w http.ResponseWriter, r *http.Request) {
	var req message.LegacySendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.BadRequest(w, "Corpo da requisição inválido", err.Error())
		return
	}

	result, err := h.sendUseCase.ExecuteLegacy(r.Context(), req)
	if err != nil {
		responses.DomainError(w, "Falha ao enviar mensagem", err)
		return
	}

	responses.Success(w, "Mensagem enviada", result)
}
