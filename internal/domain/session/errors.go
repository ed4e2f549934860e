package session

import (
	"errors"
	"fmt"
)

// Erros de domínio específicos para sessões
var (
	// ErrSessionNotFound indica que a sessão não foi encontrada
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyExists indica que uma sessão com o ID já existe
	ErrSessionAlreadyExists = errors.New("session already exists")

	// ErrSessionNotConnected indica que o socket existe mas não está pareado
	ErrSessionNotConnected = errors.New("session not connected")

	// ErrMaxSessions indica que o limite de sessões simultâneas foi atingido
	ErrMaxSessions = errors.New("max sessions reached")

	// ErrUnsupportedType indica um tipo de mensagem desconhecido no envio
	ErrUnsupportedType = errors.New("unsupported message type")

	// ErrAuthStorage indica falha de I/O no diretório de credenciais (fatal para a sessão)
	ErrAuthStorage = errors.New("auth storage failure")

	// ErrReconnectInProgress indica que já existe um worker de reconexão ativo
	ErrReconnectInProgress = errors.New("reconnect already in progress")
)

// SessionError representa um erro específico de sessão com contexto adicional
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError cria um novo erro de sessão
func NewSessionError(sessionID, op string, err error) *SessionError {
	return &SessionError{
		SessionID: sessionID,
		Op:        op,
		Err:       err,
	}
}

// ErrorCode mapeia erros de domínio para códigos estáveis expostos na API
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrSessionNotConnected):
		return "SESSION_NOT_CONNECTED"
	case errors.Is(err, ErrMaxSessions):
		return "MAX_SESSIONS"
	case errors.Is(err, ErrUnsupportedType):
		return "UNSUPPORTED_TYPE"
	default:
		return "INTERNAL_ERROR"
	}
}
