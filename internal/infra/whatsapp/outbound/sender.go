package outbound

import (
	"context"
	"fmt"
	"time"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/message"
	domain "zapgate/internal/domain/session"
	"zapgate/internal/infra/media"
	"zapgate/pkg/logger"
)

// SocketProvider dá acesso ao socket de uma sessão
type SocketProvider interface {
	Socket(sessionID string) (gateway.Socket, error)
}

// SenderOptions configura os timeouts e retries de envio
type SenderOptions struct {
	Timeout time.Duration
	Retries int
}

// Sender despacha envios tipados pelo socket da sessão, com timeout por
// tentativa e backoff incremental entre tentativas.
type Sender struct {
	sockets SocketProvider
	media   *media.Processor
	opts    SenderOptions
	log     logger.Logger
}

// NewSender cria o despachante de mensagens de saída
func NewSender(sockets SocketProvider, proc *media.Processor, opts SenderOptions, log logger.Logger) *Sender {
	return &Sender{
		sockets: sockets,
		media:   proc,
		opts:    opts,
		log:     log.WithComponent("message-sender"),
	}
}

// Send valida a sessão e despacha pelo tipo da mensagem
func (s *Sender) Send(ctx context.Context, req message.SendRequest) (*message.SendResult, error) {
	sock, err := s.sockets.Socket(req.SessionID)
	if err != nil {
		return nil, domain.ErrSessionNotFound
	}
	if !sock.Connected() || !sock.LoggedIn() {
		return nil, domain.ErrSessionNotConnected
	}

	var payload gateway.MediaPayload
	if req.Type != message.TypeText {
		data, mime, err := s.media.Fetch(ctx, req.MediaURL)
		if err != nil {
			return nil, fmt.Errorf("fetch media: %w", err)
		}

		if req.Type == message.TypeSticker {
			data, mime = s.media.ToSticker(data)
		}

		payload = gateway.MediaPayload{
			Data:     data,
			MimeType: mime,
			Caption:  req.Caption,
			Filename: req.Filename,
		}
	}

	var send func(ctx context.Context) (string, error)
	switch req.Type {
	case message.TypeText:
		send = func(ctx context.Context) (string, error) { return sock.SendText(ctx, req.WaID, req.Body) }
	case message.TypeImage:
		send = func(ctx context.Context) (string, error) { return sock.SendImage(ctx, req.WaID, payload) }
	case message.TypeAudio:
		send = func(ctx context.Context) (string, error) { return sock.SendAudio(ctx, req.WaID, payload) }
	case message.TypeVideo:
		send = func(ctx context.Context) (string, error) { return sock.SendVideo(ctx, req.WaID, payload) }
	case message.TypeDocument:
		send = func(ctx context.Context) (string, error) { return sock.SendDocument(ctx, req.WaID, payload) }
	case message.TypeSticker:
		send = func(ctx context.Context) (string, error) { return sock.SendSticker(ctx, req.WaID, payload) }
	default:
		return nil, domain.ErrUnsupportedType
	}

	wamID, err := s.sendWithRetry(ctx, req.SessionID, send)
	if err != nil {
		return nil, err
	}
	return &message.SendResult{WamID: wamID}, nil
}

// sendWithRetry corre cada tentativa contra um timeout próprio e aplica
// backoff incremental (2s × tentativa) entre elas
func (s *Sender) sendWithRetry(ctx context.Context, sessionID string, send func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= s.opts.Retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		wamID, err := send(attemptCtx)
		cancel()

		if err == nil {
			return wamID, nil
		}
		lastErr = err

		s.log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Int("attempt", attempt).
			Msg("Send attempt failed")

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < s.opts.Retries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(2 * time.Second * time.Duration(attempt)):
			}
		}
	}

	return "", fmt.Errorf("send failed after %d attempts: %w", s.opts.Retries, lastErr)
}
