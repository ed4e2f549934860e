package message

// Tipos de mensagem suportados pelo envio tipado
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeDocument = "document"
	TypeSticker  = "sticker"
)

// SendRequest representa uma solicitação de envio vinda do control plane
type SendRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	WaID      string `json:"wa_id" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=text image audio video document sticker"`
	Body      string `json:"body,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// SendResult é o resultado de um envio bem-sucedido
type SendResult struct {
	WamID string `json:"wamId"`
}
