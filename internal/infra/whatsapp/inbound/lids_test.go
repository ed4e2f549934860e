package inbound

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/gateway"
	"zapgate/pkg/logger"
)

func newTestResolver(t *testing.T) *LIDResolver {
	t.Helper()
	return NewLIDResolver(t.TempDir(), logger.Nop())
}

func TestResolveDirectPhoneJID(t *testing.T) {
	r := newTestResolver(t)

	phone, reliable := r.Resolve("s1", gateway.InboundMessage{
		RemoteJID: "5511999999999@s.whatsapp.net",
	})

	assert.Equal(t, "5511999999999", phone)
	assert.True(t, reliable)
}

func TestResolveStripsDeviceSuffix(t *testing.T) {
	r := newTestResolver(t)

	phone, reliable := r.Resolve("s1", gateway.InboundMessage{
		RemoteJID: "5511999999999:12@s.whatsapp.net",
	})

	assert.Equal(t, "5511999999999", phone)
	assert.True(t, reliable)
}

func TestResolveAltFieldsLinkedToPhone(t *testing.T) {
	r := newTestResolver(t)

	phone, reliable := r.Resolve("s1", gateway.InboundMessage{
		RemoteJID:    "123456789@lid",
		RemoteJIDAlt: "5511888888888@s.whatsapp.net",
	})

	assert.Equal(t, "5511888888888", phone)
	assert.True(t, reliable)

	// Participant de grupo vinculado a telefone
	phone, reliable = r.Resolve("s1", gateway.InboundMessage{
		RemoteJID:   "12036304@g.us",
		Participant: "5511777777777@s.whatsapp.net",
	})
	assert.Equal(t, "5511777777777", phone)
	assert.True(t, reliable)
}

func TestResolveLearnsReverseMapOpportunistically(t *testing.T) {
	r := newTestResolver(t)

	// Primeira mensagem chega com ambos os JIDs e ensina o mapa reverso
	_, _ = r.Resolve("s1", gateway.InboundMessage{
		RemoteJID:    "5511999999999@s.whatsapp.net",
		RemoteJIDAlt: "987654321@lid",
	})

	// Segunda mensagem chega apenas com o lid
	phone, reliable := r.Resolve("s1", gateway.InboundMessage{
		RemoteJID: "987654321@lid",
	})

	assert.Equal(t, "5511999999999", phone)
	assert.True(t, reliable)

	// O mapa reverso foi persistido como string JSON no diretório da sessão
	path := filepath.Join(r.authRoot, "s1", "lids", "lid-mapping-987654321_reverse.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var persisted string
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, "5511999999999", persisted)
}

func TestResolveReadsReverseMapFromDisk(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"json string", `"5511666666666"`},
		{"raw digits", `5511666666666`},
		{"legacy object", `{"lid":"111222333","phone":"5511666666666"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestResolver(t)

			dir := filepath.Join(r.authRoot, "s1", "lids")
			require.NoError(t, os.MkdirAll(dir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "lid-mapping-111222333_reverse.json"), []byte(tc.content), 0o600))

			phone, reliable := r.Resolve("s1", gateway.InboundMessage{
				RemoteJID: "111222333@lid",
			})

			assert.Equal(t, "5511666666666", phone)
			assert.True(t, reliable)
		})
	}
}

func TestResolveFallbackKeepsDigits(t *testing.T) {
	r := newTestResolver(t)

	phone, reliable := r.Resolve("s1", gateway.InboundMessage{
		RemoteJID: "444555666@lid",
	})

	assert.Equal(t, "444555666", phone)
	assert.False(t, reliable, "fallback is flagged as unreliable")
}

func TestResolveGroupParticipantLid(t *testing.T) {
	r := newTestResolver(t)

	// Ensina o mapa via mensagem direta
	_, _ = r.Resolve("s1", gateway.InboundMessage{
		RemoteJID:    "5511555555555@s.whatsapp.net",
		RemoteJIDAlt: "777888999@lid",
	})

	// Mensagem de grupo traz o lid no participant
	phone, reliable := r.Resolve("s1", gateway.InboundMessage{
		RemoteJID:   "12036304@g.us",
		Participant: "777888999@lid",
	})

	assert.Equal(t, "5511555555555", phone)
	assert.True(t, reliable)
}
