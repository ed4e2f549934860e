package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zapgate/internal/http/responses"
	"zapgate/internal/usecases/session"
	"zapgate/pkg/logger"
)

// SessionHandler implementa os handlers de sessão
type SessionHandler struct {
	startUseCase           *session.StartSessionUseCase
	deleteUseCase          *session.DeleteSessionUseCase
	getUseCase             *session.GetSessionUseCase
	listUseCase            *session.ListSessionsUseCase
	qrUseCase              *session.GetQRCodeUseCase
	cleanupInactiveUseCase *session.CleanupInactiveUseCase
	cleanupPendingUseCase  *session.CleanupPendingUseCase
	logger                 logger.Logger
}

// NewSessionHandler cria uma nova instância do session handler
func NewSessionHandler(
	startUseCase *session.StartSessionUseCase,
	deleteUseCase *session.DeleteSessionUseCase,
	getUseCase *session.GetSessionUseCase,
	listUseCase *session.ListSessionsUseCase,
	qrUseCase *session.GetQRCodeUseCase,
	cleanupInactiveUseCase *session.CleanupInactiveUseCase,
	cleanupPendingUseCase *session.CleanupPendingUseCase,
	log logger.Logger,
) *SessionHandler {
	return &SessionHandler{
		startUseCase:           startUseCase,
		deleteUseCase:          deleteUseCase,
		getUseCase:             getUseCase,
		listUseCase:            listUseCase,
		qrUseCase:              qrUseCase,
		cleanupInactiveUseCase: cleanupInactiveUseCase,
		cleanupPendingUseCase:  cleanupPendingUseCase,
		logger:                 log.WithComponent("session-handler"),
	}
}

// StartSession inicia uma nova sessão (ou religa uma existente)
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req session.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responses.BadRequest(w, "Corpo da requisição inválido", err.Error())
		return
	}

	resp, err := h.startUseCase.Execute(r.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error().Msg("Failed to start session")
		responses.DomainError(w, "Falha ao iniciar sessão", err)
		return
	}

	responses.Created(w, "Sessão iniciada", resp)
}

// DeleteSessionBody remove uma sessão informada no corpo da requisição
func (h *SessionHandler) DeleteSessionBody(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		responses.BadRequest(w, "Corpo da requisição inválido", "session_id é obrigatório")
		return
	}

	h.deleteSession(w, r, req.SessionID)
}

// DeleteSession remove uma sessão identificada pela URL
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		responses.BadRequest(w, "ID da sessão inválido", "sessionID é obrigatório")
		return
	}

	h.deleteSession(w, r, sessionID)
}

func (h *SessionHandler) deleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.deleteUseCase.Execute(r.Context(), sessionID); err != nil {
		h.logger.WithError(err).WithField("sessionId", sessionID).Error().Msg("Failed to delete session")
		responses.DomainError(w, "Falha ao remover sessão", err)
		return
	}

	responses.Success(w, "Sessão removida", map[string]string{"session_id": sessionID})
}

// GetSession retorna o estado observável de uma sessão
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	info, err := h.getUseCase.Execute(r.Context(), sessionID)
	if err != nil {
		responses.NotFound(w, "Sessão não encontrada")
		return
	}

	responses.Success(w, "Sessão encontrada", info)
}

// GetQRCode retorna o QR atual da sessão como PNG em base64
func (h *SessionHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	resp, err := h.qrUseCase.Execute(r.Context(), sessionID)
	if err != nil {
		responses.NotFound(w, "Nenhum QR pendente para a sessão")
		return
	}

	responses.Success(w, "QR atual", resp)
}

// ListSessions lista as sessões do processo
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	resp, err := h.listUseCase.Execute(r.Context())
	if err != nil {
		responses.InternalError(w, "Falha ao listar sessões")
		return
	}

	responses.Success(w, "Sessões listadas", resp)
}

// CleanupInactive remove sessões que o control plane não reconhece mais
func (h *SessionHandler) CleanupInactive(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cleanupInactiveUseCase.Execute(r.Context())
	if err != nil {
		responses.InternalError(w, "Falha na limpeza de sessões inativas")
		return
	}

	responses.Success(w, "Limpeza de sessões inativas concluída", resp)
}

// CleanupPending remove sessões paradas em pareamento
func (h *SessionHandler) CleanupPending(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cleanupPendingUseCase.Execute(r.Context())
	if err != nil {
		responses.InternalError(w, "Falha na limpeza de sessões pendentes")
		return
	}

	responses.Success(w, "Limpeza de sessões pendentes concluída", resp)
}
