package inbound

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"zapgate/internal/domain/gateway"
	"zapgate/pkg/logger"
)

const (
	phoneServer = "@s.whatsapp.net"
	lidServer   = "@lid"
)

// lidMapping é o formato legado (objeto) do arquivo de mapa reverso;
// o formato canônico é o telefone como string JSON ou dígitos crus
type lidMapping struct {
	LID   string `json:"lid"`
	Phone string `json:"phone"`
}

// LIDResolver resolve a identidade de remetentes entregues como local
// identifier (@lid) para o telefone real, usando uma tabela em memória
// alimentada por mapas reversos persistidos por sessão.
type LIDResolver struct {
	mu       sync.RWMutex
	table    map[string]string
	authRoot string
	log      logger.Logger
}

// NewLIDResolver cria o resolvedor de identidade
func NewLIDResolver(authRoot string, log logger.Logger) *LIDResolver {
	return &LIDResolver{
		table:    make(map[string]string),
		authRoot: authRoot,
		log:      log.WithComponent("lid-resolver"),
	}
}

// Resolve aplica a ordem de resolução de identidade e retorna o telefone
// do remetente. reliable=false indica que caiu no fallback de dígitos.
func (r *LIDResolver) Resolve(sessionID string, msg gateway.InboundMessage) (phone string, reliable bool) {
	// Caso direto: JID vinculado a telefone
	if strings.HasSuffix(msg.RemoteJID, phoneServer) {
		phone = stripServer(msg.RemoteJID)

		// Oportunisticamente aprende o mapa reverso lid -> telefone
		if strings.HasSuffix(msg.RemoteJIDAlt, lidServer) {
			r.learn(sessionID, stripServer(msg.RemoteJIDAlt), phone)
		}
		return phone, true
	}

	// Alguma das alternativas já pode vir vinculada a telefone
	for _, alt := range []string{msg.RemoteJIDAlt, msg.ParticipantAlt, msg.Participant} {
		if strings.HasSuffix(alt, phoneServer) {
			return stripServer(alt), true
		}
	}

	// Candidato @lid: tabela em memória, depois o mapa reverso em disco
	candidate := msg.RemoteJID
	if !strings.HasSuffix(candidate, lidServer) && strings.HasSuffix(msg.Participant, lidServer) {
		candidate = msg.Participant
	}
	if strings.HasSuffix(candidate, lidServer) {
		lid := stripServer(candidate)

		r.mu.RLock()
		mapped := r.table[lid]
		r.mu.RUnlock()
		if mapped != "" {
			return mapped, true
		}

		if mapped := r.readReverseMap(sessionID, lid); mapped != "" {
			r.mu.Lock()
			r.table[lid] = mapped
			r.mu.Unlock()
			return mapped, true
		}
	}

	// Fallback: mantém apenas dígitos e sinaliza a incerteza
	digits := keepDigits(stripServer(candidate))
	r.log.Warn().
		Str("session_id", sessionID).
		Str("remote_jid", msg.RemoteJID).
		Str("resolved", digits).
		Msg("Sender identity unresolved, phone may be incorrect")
	return digits, false
}

// learn persiste o mapa reverso em memória e em disco
func (r *LIDResolver) learn(sessionID, lid, phone string) {
	r.mu.Lock()
	known := r.table[lid] == phone
	r.table[lid] = phone
	r.mu.Unlock()
	if known {
		return
	}

	dir := filepath.Join(r.authRoot, sessionID, "lids")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to create lids directory")
		return
	}

	data, err := json.Marshal(phone)
	if err != nil {
		return
	}

	path := filepath.Join(dir, reverseMapFilename(lid))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID).Str("lid", lid).Msg("Failed to persist reverse LID map")
	}
}

// readReverseMap consulta o arquivo de mapa reverso da sessão
func (r *LIDResolver) readReverseMap(sessionID, lid string) string {
	path := filepath.Join(r.authRoot, sessionID, "lids", reverseMapFilename(lid))
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return parseReverseMap(data)
}

// parseReverseMap aceita os formatos históricos do arquivo: o telefone
// como string JSON ("5511..."), os dígitos crus e o objeto legado
// {"lid":...,"phone":...}
func parseReverseMap(data []byte) string {
	var phone string
	if err := json.Unmarshal(data, &phone); err == nil {
		return keepDigits(phone)
	}

	var mapping lidMapping
	if err := json.Unmarshal(data, &mapping); err == nil && mapping.Phone != "" {
		return mapping.Phone
	}

	return keepDigits(string(data))
}

func reverseMapFilename(lid string) string {
	return "lid-mapping-" + lid + "_reverse.json"
}

func stripServer(jid string) string {
	if idx := strings.Index(jid, "@"); idx >= 0 {
		jid = jid[:idx]
	}
	// Descarta o sufixo de device (ex.: 5511999999999:12)
	if idx := strings.Index(jid, ":"); idx >= 0 {
		jid = jid[:idx]
	}
	return jid
}

func keepDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
