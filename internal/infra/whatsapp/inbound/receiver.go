package inbound

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zapgate/internal/domain/gateway"
	"zapgate/pkg/logger"
)

// protocolKinds são tipos de mensagem que nunca chegam ao webhook do tenant
var protocolKinds = map[string]struct{}{
	"protocolMessage":              {},
	"senderKeyDistributionMessage": {},
	"reactionMessage":              {},
	"ephemeralMessage":             {},
	"viewOnceMessage":              {},
	"pollUpdateMessage":            {},
}

// TokenSource resolve o webhook token de uma sessão (com cache)
type TokenSource interface {
	WebhookTokenFor(ctx context.Context, sessionID string) (string, error)
}

// SocketProvider dá acesso ao socket de uma sessão para download de mídia
type SocketProvider interface {
	Socket(sessionID string) (gateway.Socket, error)
}

// ReceiverOptions configura o pipeline de processamento de entrada
type ReceiverOptions struct {
	AudioDir      string
	MaxMessageAge time.Duration
}

// Receiver é o pipeline de mensagens recebidas: filtra ruído de protocolo,
// resolve a identidade do remetente, baixa áudio e entrega ao webhook do
// tenant. Alimenta a fila durável a partir do fanout de eventos.
type Receiver struct {
	queue    *Queue
	resolver *LIDResolver
	tokens   TokenSource
	plane    gateway.ControlPlane
	opts     ReceiverOptions
	log      logger.Logger

	mu      sync.Mutex
	sockets SocketProvider

	statsMu    sync.Mutex
	successes  int64
	failures   int64
	avgLatency time.Duration
}

// NewReceiver cria o pipeline de entrada. O SocketProvider é ligado depois,
// via SetSocketProvider, para quebrar a dependência circular com o facade.
func NewReceiver(resolver *LIDResolver, tokens TokenSource, plane gateway.ControlPlane, opts ReceiverOptions, log logger.Logger) *Receiver {
	return &Receiver{
		resolver: resolver,
		tokens:   tokens,
		plane:    plane,
		opts:     opts,
		log:      log.WithComponent("message-receiver"),
	}
}

// BindQueue liga a fila durável que alimenta os workers
func (r *Receiver) BindQueue(q *Queue) {
	r.queue = q
}

// SetSocketProvider liga a origem de sockets para download de mídia
func (r *Receiver) SetSocketProvider(p SocketProvider) {
	r.mu.Lock()
	r.sockets = p
	r.mu.Unlock()
}

// HandleInbound enfileira as mensagens do fanout; nunca bloqueia no
// processamento em si
func (r *Receiver) HandleInbound(ctx context.Context, sessionID string, msgs []gateway.InboundMessage) {
	for _, msg := range msgs {
		if err := r.queue.Enqueue(ctx, sessionID, msg); err != nil {
			r.log.Error().
				Err(err).
				Str("session_id", sessionID).
				Str("message_id", msg.WamID).
				Msg("Failed to enqueue inbound message")
		}
	}
}

// Process é o Processor da fila: aplica os filtros e entrega ao webhook
func (r *Receiver) Process(ctx context.Context, sessionID string, msg gateway.InboundMessage) error {
	start := time.Now()

	delivered, err := r.process(ctx, sessionID, msg)
	if err != nil {
		r.recordResult(false, time.Since(start))
		return err
	}
	if delivered {
		r.recordResult(true, time.Since(start))
	}
	return nil
}

// process retorna delivered=false quando a mensagem foi filtrada
func (r *Receiver) process(ctx context.Context, sessionID string, msg gateway.InboundMessage) (bool, error) {
	if msg.FromMe || msg.Kind == "" || msg.Kind == "unknown" {
		return false, nil
	}
	if _, protocol := protocolKinds[msg.Kind]; protocol {
		return false, nil
	}

	// Ruído de history-sync: mensagens velhas não vão ao webhook
	if r.opts.MaxMessageAge > 0 && time.Since(msg.Timestamp) > r.opts.MaxMessageAge {
		return false, nil
	}

	if !validSenderJID(msg) {
		r.log.Debug().
			Str("session_id", sessionID).
			Str("remote_jid", msg.RemoteJID).
			Msg("Dropping message with unsupported sender JID")
		return false, nil
	}

	phone, _ := r.resolver.Resolve(sessionID, msg)
	if phone == "" {
		return false, nil
	}

	msgType, text := contentFor(msg)

	var audioPath string
	if msgType == "audio" {
		path, err := r.downloadAudio(ctx, sessionID, phone, msg)
		if err != nil {
			return false, err
		}
		audioPath = path
	}

	if msgType == "text" && strings.TrimSpace(text) == "" {
		return false, nil
	}

	token, err := r.tokens.WebhookTokenFor(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("resolve webhook token: %w", err)
	}

	err = r.plane.PostWebhookMessage(ctx, token, gateway.WebhookMessage{
		From:      phone,
		Text:      text,
		Type:      msgType,
		WamID:     msg.WamID,
		Timestamp: msg.Timestamp,
		PushName:  msg.PushName,
		AudioPath: audioPath,
	})
	if err != nil {
		return false, fmt.Errorf("deliver webhook message: %w", err)
	}
	return true, nil
}

// downloadAudio salva o stream de áudio em ./audios/<phone>_<msgId>.<ext>
func (r *Receiver) downloadAudio(ctx context.Context, sessionID, phone string, msg gateway.InboundMessage) (string, error) {
	r.mu.Lock()
	sockets := r.sockets
	r.mu.Unlock()
	if sockets == nil {
		return "", fmt.Errorf("socket provider not bound")
	}

	sock, err := sockets.Socket(sessionID)
	if err != nil {
		return "", fmt.Errorf("session socket unavailable: %w", err)
	}

	data, ext, err := sock.DownloadMedia(ctx, msg.RawProto)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}

	if err := os.MkdirAll(r.opts.AudioDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(r.opts.AudioDir, fmt.Sprintf("%s_%s.%s", phone, msg.WamID, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func validSenderJID(msg gateway.InboundMessage) bool {
	for _, jid := range []string{msg.RemoteJID, msg.Participant} {
		if strings.HasSuffix(jid, phoneServer) || strings.HasSuffix(jid, lidServer) {
			return true
		}
	}
	return false
}

// contentFor mapeia o tipo de protocolo para o tipo visto pelo webhook
func contentFor(msg gateway.InboundMessage) (msgType, text string) {
	switch msg.Kind {
	case "conversation", "extendedTextMessage":
		return "text", msg.Text
	case "audioMessage":
		return "audio", ""
	case "imageMessage":
		return "image", msg.Text
	case "videoMessage":
		return "video", msg.Text
	case "documentMessage":
		return "document", msg.Text
	case "stickerMessage":
		return "sticker", ""
	default:
		return "text", msg.Text
	}
}

// recordResult acumula as métricas de processamento; a cada 100 jobs
// concluídos, loga a média móvel de latência
func (r *Receiver) recordResult(success bool, latency time.Duration) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	if success {
		r.successes++
	} else {
		r.failures++
	}

	// Média móvel exponencial simples
	if r.avgLatency == 0 {
		r.avgLatency = latency
	} else {
		r.avgLatency = (r.avgLatency*9 + latency) / 10
	}

	total := r.successes + r.failures
	if total%100 == 0 {
		r.log.Info().
			Int64("successes", r.successes).
			Int64("failures", r.failures).
			Dur("avg_latency", r.avgLatency).
			Msg("Inbound processing metrics")
	}
}

// MetricsSnapshot expõe os contadores para o endpoint de saúde
func (r *Receiver) MetricsSnapshot() (successes, failures int64, avgLatency time.Duration) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.successes, r.failures, r.avgLatency
}
