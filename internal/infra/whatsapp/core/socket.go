package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"zapgate/internal/domain/gateway"
	"zapgate/pkg/logger"
)

// wmSocket adapta um *whatsmeow.Client para a interface gateway.Socket.
// Eventos do protocolo são traduzidos para o fluxo tipado consumido pelo
// fanout do facade.
type wmSocket struct {
	sessionID string
	client    *whatsmeow.Client
	events    chan gateway.Event
	log       logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newWMSocket(sessionID string, client *whatsmeow.Client, log logger.Logger) *wmSocket {
	s := &wmSocket{
		sessionID: sessionID,
		client:    client,
		events:    make(chan gateway.Event, 64),
		log:       log.WithComponent("socket").WithField("session_id", sessionID),
	}
	s.closed = make(chan struct{})
	client.AddEventHandler(s.handleEvent)
	return s
}

// Connect abre a conexão. Quando o dispositivo ainda não está pareado,
// o canal de QR é drenado para o fluxo de eventos antes do Connect.
func (s *wmSocket) Connect() error {
	if s.client.Store.ID == nil {
		qrChan, err := s.client.GetQRChannel(context.Background())
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}
		go s.pumpQR(qrChan)
	}

	return s.client.Connect()
}

// pumpQR converte itens do canal de QR em ConnectionUpdate
func (s *wmSocket) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			s.emit(gateway.ConnectionUpdate{
				State: gateway.ConnectionConnecting,
				QR:    evt.Code,
			})
		case "success":
			s.log.Info().Msg("QR pairing succeeded")
		case "timeout":
			s.log.Info().Msg("QR channel timed out")
			s.emit(gateway.ConnectionUpdate{
				State:      gateway.ConnectionClose,
				StatusCode: gateway.CodePreconditionReq,
			})
		case "error":
			s.log.Warn().Err(evt.Error).Msg("QR channel error")
		}
	}
}

func (s *wmSocket) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		s.emit(gateway.ConnectionUpdate{State: gateway.ConnectionOpen})

	case *events.PairSuccess:
		s.log.Info().Str("jid", e.ID.String()).Msg("Device paired")
		s.emit(gateway.CredsUpdate{})

	case *events.LoggedOut:
		s.log.Warn().Str("reason", e.Reason.String()).Msg("Device logged out")
		s.emit(gateway.ConnectionUpdate{
			State:      gateway.ConnectionClose,
			StatusCode: gateway.CodeLoggedOut,
		})

	case *events.ConnectFailure:
		s.emit(gateway.ConnectionUpdate{
			State:      gateway.ConnectionClose,
			StatusCode: int(e.Reason),
		})

	case *events.StreamReplaced:
		s.emit(gateway.ConnectionUpdate{
			State:      gateway.ConnectionClose,
			StatusCode: gateway.CodeMethodNotAllowed,
		})

	case *events.Disconnected:
		// Queda transitória de transporte; reconexão fica por conta do gateway
		s.emit(gateway.ConnectionUpdate{
			State:      gateway.ConnectionClose,
			StatusCode: 500,
		})

	case *events.Message:
		if msg := s.normalize(e); msg != nil {
			s.emit(gateway.MessagesUpsert{Messages: []gateway.InboundMessage{*msg}})
		}
	}
}

// normalize converte um evento de mensagem no formato interno do gateway
func (s *wmSocket) normalize(e *events.Message) *gateway.InboundMessage {
	raw, err := proto.Marshal(e.Message)
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", e.Info.ID).Msg("Failed to marshal message proto")
		raw = nil
	}

	kind, text, mime := classifyMessage(e.Message)

	msg := &gateway.InboundMessage{
		WamID:     e.Info.ID,
		RemoteJID: e.Info.Chat.String(),
		PushName:  e.Info.PushName,
		FromMe:    e.Info.IsFromMe,
		Timestamp: e.Info.Timestamp,
		Kind:      kind,
		Text:      text,
		MimeType:  mime,
		RawProto:  raw,
	}

	if e.Info.IsGroup {
		msg.Participant = e.Info.Sender.String()
		if !e.Info.SenderAlt.IsEmpty() {
			msg.ParticipantAlt = e.Info.SenderAlt.String()
		}
	} else if !e.Info.SenderAlt.IsEmpty() {
		msg.RemoteJIDAlt = e.Info.SenderAlt.String()
	}

	return msg
}

// classifyMessage extrai o tipo, o texto e o mimetype de uma mensagem
func classifyMessage(msg *waE2E.Message) (kind, text, mime string) {
	switch {
	case msg == nil:
		return "", "", ""
	case msg.GetProtocolMessage() != nil:
		return "protocolMessage", "", ""
	case msg.GetSenderKeyDistributionMessage() != nil:
		return "senderKeyDistributionMessage", "", ""
	case msg.GetReactionMessage() != nil:
		return "reactionMessage", "", ""
	case msg.GetEphemeralMessage() != nil:
		return "ephemeralMessage", "", ""
	case msg.GetViewOnceMessage() != nil:
		return "viewOnceMessage", "", ""
	case msg.GetPollUpdateMessage() != nil:
		return "pollUpdateMessage", "", ""
	case msg.GetConversation() != "":
		return "conversation", msg.GetConversation(), ""
	case msg.GetExtendedTextMessage() != nil:
		return "extendedTextMessage", msg.GetExtendedTextMessage().GetText(), ""
	case msg.GetAudioMessage() != nil:
		return "audioMessage", "", msg.GetAudioMessage().GetMimetype()
	case msg.GetImageMessage() != nil:
		return "imageMessage", msg.GetImageMessage().GetCaption(), msg.GetImageMessage().GetMimetype()
	case msg.GetVideoMessage() != nil:
		return "videoMessage", msg.GetVideoMessage().GetCaption(), msg.GetVideoMessage().GetMimetype()
	case msg.GetDocumentMessage() != nil:
		return "documentMessage", msg.GetDocumentMessage().GetCaption(), msg.GetDocumentMessage().GetMimetype()
	case msg.GetStickerMessage() != nil:
		return "stickerMessage", "", msg.GetStickerMessage().GetMimetype()
	default:
		return "unknown", "", ""
	}
}

// emit entrega um evento sem nunca bloquear o handler do whatsmeow.
// O canal de eventos nunca é fechado: após o Close os handlers do
// whatsmeow ainda podem disparar, e um send num canal fechado derrubaria
// o processo. O pump do facade encerra pelo seu próprio canal de stop.
func (s *wmSocket) emit(ev gateway.Event) {
	select {
	case <-s.closed:
		return
	default:
	}

	select {
	case s.events <- ev:
	default:
		s.log.Warn().Msg("Socket event channel full, dropping event")
	}
}

func (s *wmSocket) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.client.Disconnect()
	})
}

func (s *wmSocket) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

func (s *wmSocket) Connected() bool {
	return s.client.IsConnected()
}

func (s *wmSocket) LoggedIn() bool {
	return s.client.IsLoggedIn()
}

// User retorna o telefone pareado, ou vazio quando não autenticado
func (s *wmSocket) User() string {
	if s.client.Store.ID == nil {
		return ""
	}
	return s.client.Store.ID.User
}

func (s *wmSocket) Events() <-chan gateway.Event {
	return s.events
}

// parseRecipient aceita telefone puro ou JID completo
func parseRecipient(to string) (types.JID, error) {
	if !strings.Contains(to, "@") {
		cleaned := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, to)
		if cleaned == "" {
			return types.JID{}, fmt.Errorf("invalid recipient %q", to)
		}
		return types.NewJID(cleaned, types.DefaultUserServer), nil
	}

	jid, err := types.ParseJID(to)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	return jid, nil
}

func (s *wmSocket) SendText(ctx context.Context, to string, body string) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	return resp.ID, nil
}

func (s *wmSocket) SendImage(ctx context.Context, to string, media gateway.MediaPayload) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	uploaded, err := s.client.Upload(ctx, media.Data, whatsmeow.MediaImage)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(media.Data))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("send image: %w", err)
	}
	return resp.ID, nil
}

func (s *wmSocket) SendAudio(ctx context.Context, to string, media gateway.MediaPayload) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	uploaded, err := s.client.Upload(ctx, media.Data, whatsmeow.MediaAudio)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(media.Data))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("send audio: %w", err)
	}
	return resp.ID, nil
}

func (s *wmSocket) SendVideo(ctx context.Context, to string, media gateway.MediaPayload) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	uploaded, err := s.client.Upload(ctx, media.Data, whatsmeow.MediaVideo)
	if err != nil {
		return "", fmt.Errorf("upload video: %w", err)
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(media.Data))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("send video: %w", err)
	}
	return resp.ID, nil
}

func (s *wmSocket) SendDocument(ctx context.Context, to string, media gateway.MediaPayload) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	uploaded, err := s.client.Upload(ctx, media.Data, whatsmeow.MediaDocument)
	if err != nil {
		return "", fmt.Errorf("upload document: %w", err)
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(media.Caption),
			FileName:      proto.String(media.Filename),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(media.Data))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("send document: %w", err)
	}
	return resp.ID, nil
}

func (s *wmSocket) SendSticker(ctx context.Context, to string, media gateway.MediaPayload) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	uploaded, err := s.client.Upload(ctx, media.Data, whatsmeow.MediaImage)
	if err != nil {
		return "", fmt.Errorf("upload sticker: %w", err)
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(media.Data))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("send sticker: %w", err)
	}
	return resp.ID, nil
}

// DownloadMedia rehidrata a mensagem serializada e baixa a mídia associada
func (s *wmSocket) DownloadMedia(ctx context.Context, rawProto []byte) ([]byte, string, error) {
	if len(rawProto) == 0 {
		return nil, "", fmt.Errorf("message carries no media payload")
	}

	var msg waE2E.Message
	if err := proto.Unmarshal(rawProto, &msg); err != nil {
		return nil, "", fmt.Errorf("unmarshal message proto: %w", err)
	}

	data, err := s.client.DownloadAny(ctx, &msg)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}

	_, _, mime := classifyMessage(&msg)
	return data, extensionForMime(mime), nil
}

// extensionForMime mapeia os mimetypes comuns do protocolo para extensões
func extensionForMime(mime string) string {
	base := mime
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}

	switch base {
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/m4a":
		return "m4a"
	case "audio/wav":
		return "wav"
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	case "application/pdf":
		return "pdf"
	default:
		return "bin"
	}
}

var _ gateway.Socket = (*wmSocket)(nil)
