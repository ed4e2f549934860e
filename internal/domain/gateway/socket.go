package gateway

import (
	"context"
	"time"
)

// ConnectionState representa o estado de transporte reportado pelo socket
type ConnectionState string

const (
	ConnectionOpen       ConnectionState = "open"
	ConnectionClose      ConnectionState = "close"
	ConnectionConnecting ConnectionState = "connecting"
)

// Códigos de desconexão que encerram a sessão sem reconexão
const (
	CodeLoggedOut        = 401
	CodeMethodNotAllowed = 405
	CodePreconditionReq  = 428
)

// IsFatalDisconnect classifica um statusCode de desconexão
func IsFatalDisconnect(code int) bool {
	switch code {
	case CodeLoggedOut, CodeMethodNotAllowed, CodePreconditionReq:
		return true
	default:
		return false
	}
}

// Event é o fluxo tipado emitido por um Socket
type Event interface {
	isEvent()
}

// ConnectionUpdate sinaliza mudança de transporte ou um novo QR de pareamento
type ConnectionUpdate struct {
	State      ConnectionState
	QR         string
	StatusCode int
}

// MessagesUpsert carrega mensagens recebidas já normalizadas
type MessagesUpsert struct {
	Messages []InboundMessage
}

// CredsUpdate sinaliza que as credenciais mudaram e devem ser persistidas
type CredsUpdate struct{}

func (ConnectionUpdate) isEvent() {}
func (MessagesUpsert) isEvent()   {}
func (CredsUpdate) isEvent()      {}

// InboundMessage é a forma normalizada de uma mensagem recebida do protocolo.
// RawProto carrega a mensagem serializada para download posterior de mídia.
type InboundMessage struct {
	WamID          string    `json:"wamId"`
	RemoteJID      string    `json:"remoteJid"`
	RemoteJIDAlt   string    `json:"remoteJidAlt,omitempty"`
	Participant    string    `json:"participant,omitempty"`
	ParticipantAlt string    `json:"participantAlt,omitempty"`
	PushName       string    `json:"pushName,omitempty"`
	FromMe         bool      `json:"fromMe"`
	Timestamp      time.Time `json:"timestamp"`
	Kind           string    `json:"kind"`
	Text           string    `json:"text,omitempty"`
	MimeType       string    `json:"mimeType,omitempty"`
	RawProto       []byte    `json:"rawProto,omitempty"`
}

// MediaPayload agrupa os bytes e metadados de uma mídia a enviar
type MediaPayload struct {
	Data     []byte
	MimeType string
	Caption  string
	Filename string
}

// Socket é a capacidade de protocolo consumida pelo núcleo do gateway.
// A implementação real vive em internal/infra/whatsapp/core.
type Socket interface {
	Connect() error
	Close()
	Logout(ctx context.Context) error
	Connected() bool
	LoggedIn() bool
	// User retorna o telefone pareado, ou vazio quando não autenticado
	User() string
	Events() <-chan Event

	SendText(ctx context.Context, to string, body string) (string, error)
	SendImage(ctx context.Context, to string, media MediaPayload) (string, error)
	SendAudio(ctx context.Context, to string, media MediaPayload) (string, error)
	SendVideo(ctx context.Context, to string, media MediaPayload) (string, error)
	SendDocument(ctx context.Context, to string, media MediaPayload) (string, error)
	SendSticker(ctx context.Context, to string, media MediaPayload) (string, error)

	// DownloadMedia rehidrata a mensagem serializada e baixa a mídia associada,
	// retornando os bytes e a extensão sugerida
	DownloadMedia(ctx context.Context, rawProto []byte) ([]byte, string, error)
}
