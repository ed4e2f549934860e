package inbound

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

type fakeTokens struct{}

func (fakeTokens) WebhookTokenFor(ctx context.Context, sessionID string) (string, error) {
	return "tok-" + sessionID, nil
}

// webhookRecorder implementa gateway.ControlPlane capturando entregas
type webhookRecorder struct {
	delivered []gateway.WebhookMessage
	tokens    []string
}

func (w *webhookRecorder) ActiveAccounts(ctx context.Context) ([]gateway.Account, error) {
	return nil, nil
}
func (w *webhookRecorder) WebhookToken(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}
func (w *webhookRecorder) StatusByToken(ctx context.Context, token string) (session.ReportedStatus, error) {
	return session.StatusActive, nil
}
func (w *webhookRecorder) PostQRBatch(ctx context.Context, items []gateway.QRBatchItem) error {
	return nil
}
func (w *webhookRecorder) PostStatusBatch(ctx context.Context, items []gateway.StatusBatchItem) error {
	return nil
}
func (w *webhookRecorder) PostLifecycleBatch(ctx context.Context, events []session.LifecycleEvent) error {
	return nil
}
func (w *webhookRecorder) PostWebhookMessage(ctx context.Context, token string, msg gateway.WebhookMessage) error {
	w.tokens = append(w.tokens, token)
	w.delivered = append(w.delivered, msg)
	return nil
}

func newTestReceiver(t *testing.T) (*Receiver, *webhookRecorder) {
	t.Helper()

	plane := &webhookRecorder{}
	resolver := NewLIDResolver(t.TempDir(), logger.Nop())
	r := NewReceiver(resolver, fakeTokens{}, plane, ReceiverOptions{
		AudioDir:      t.TempDir(),
		MaxMessageAge: 5 * time.Minute,
	}, logger.Nop())
	return r, plane
}

func textMessage() gateway.InboundMessage {
	return gateway.InboundMessage{
		WamID:     "wam-1",
		RemoteJID: "5511999999999@s.whatsapp.net",
		PushName:  "Alice",
		Timestamp: time.Now(),
		Kind:      "conversation",
		Text:      "olá",
	}
}

func TestReceiverDeliversTextMessage(t *testing.T) {
	r, plane := newTestReceiver(t)

	require.NoError(t, r.Process(context.Background(), "s1", textMessage()))

	require.Len(t, plane.delivered, 1)
	msg := plane.delivered[0]
	assert.Equal(t, "5511999999999", msg.From)
	assert.Equal(t, "olá", msg.Text)
	assert.Equal(t, "text", msg.Type)
	assert.Equal(t, "wam-1", msg.WamID)
	assert.Equal(t, "Alice", msg.PushName)
	assert.Equal(t, "tok-s1", plane.tokens[0])
}

func TestReceiverSkipsOwnMessages(t *testing.T) {
	r, plane := newTestReceiver(t)

	msg := textMessage()
	msg.FromMe = true

	require.NoError(t, r.Process(context.Background(), "s1", msg))
	assert.Empty(t, plane.delivered)
}

func TestReceiverSkipsProtocolNoise(t *testing.T) {
	r, plane := newTestReceiver(t)

	for _, kind := range []string{
		"protocolMessage",
		"senderKeyDistributionMessage",
		"reactionMessage",
		"ephemeralMessage",
		"viewOnceMessage",
		"pollUpdateMessage",
		"unknown",
		"",
	} {
		msg := textMessage()
		msg.Kind = kind
		require.NoError(t, r.Process(context.Background(), "s1", msg))
	}

	assert.Empty(t, plane.delivered)
}

func TestReceiverSkipsHistorySyncBacklog(t *testing.T) {
	r, plane := newTestReceiver(t)

	msg := textMessage()
	msg.Timestamp = time.Now().Add(-time.Hour)

	require.NoError(t, r.Process(context.Background(), "s1", msg))
	assert.Empty(t, plane.delivered)
}

func TestReceiverSkipsUnsupportedSenderJID(t *testing.T) {
	r, plane := newTestReceiver(t)

	msg := textMessage()
	msg.RemoteJID = "status@broadcast"

	require.NoError(t, r.Process(context.Background(), "s1", msg))
	assert.Empty(t, plane.delivered)
}

func TestReceiverSkipsEmptyText(t *testing.T) {
	r, plane := newTestReceiver(t)

	msg := textMessage()
	msg.Text = "   "

	require.NoError(t, r.Process(context.Background(), "s1", msg))
	assert.Empty(t, plane.delivered)
}

func TestReceiverDeliversMediaWithCaption(t *testing.T) {
	r, plane := newTestReceiver(t)

	msg := textMessage()
	msg.Kind = "imageMessage"
	msg.Text = "legenda"

	require.NoError(t, r.Process(context.Background(), "s1", msg))

	require.Len(t, plane.delivered, 1)
	assert.Equal(t, "image", plane.delivered[0].Type)
	assert.Equal(t, "legenda", plane.delivered[0].Text)
}

func TestContentForMapping(t *testing.T) {
	cases := []struct {
		kind     string
		text     string
		wantType string
		wantText string
	}{
		{"conversation", "oi", "text", "oi"},
		{"extendedTextMessage", "oi", "text", "oi"},
		{"audioMessage", "", "audio", ""},
		{"imageMessage", "cap", "image", "cap"},
		{"videoMessage", "cap", "video", "cap"},
		{"documentMessage", "cap", "document", "cap"},
		{"stickerMessage", "", "sticker", ""},
	}

	for _, tc := range cases {
		msgType, text := contentFor(gateway.InboundMessage{Kind: tc.kind, Text: tc.text})
		assert.Equal(t, tc.wantType, msgType, tc.kind)
		assert.Equal(t, tc.wantText, text, tc.kind)
	}
}

func TestReceiverMetrics(t *testing.T) {
	r, _ := newTestReceiver(t)

	require.NoError(t, r.Process(context.Background(), "s1", textMessage()))

	successes, failures, avg := r.MetricsSnapshot()
	assert.Equal(t, int64(1), successes)
	assert.Equal(t, int64(0), failures)
	assert.Greater(t, avg, time.Duration(0))
}
