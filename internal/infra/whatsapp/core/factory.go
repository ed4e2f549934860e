package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// credsSnapshot é o espelho em disco do JID pareado de uma sessão.
// As credenciais de protocolo ficam no sqlstore; este arquivo permite
// religar o device certo ao restaurar a sessão.
type credsSnapshot struct {
	JID string `json:"jid"`
}

// SocketFactory cria sockets configurados para uma sessão: resolve o
// diretório de credenciais, religa o device persistido e monta o cliente
// com logging silencioso do protocolo.
type SocketFactory struct {
	mu        sync.Mutex
	devices   map[string]*store.Device
	container *sqlstore.Container

	authRoot   string
	qrTerminal bool
	log        logger.Logger
}

// NewSocketFactory cria a fábrica de sockets
func NewSocketFactory(container *sqlstore.Container, authRoot string, qrTerminal bool, log logger.Logger) *SocketFactory {
	return &SocketFactory{
		devices:    make(map[string]*store.Device),
		container:  container,
		authRoot:   authRoot,
		qrTerminal: qrTerminal,
		log:        log.WithComponent("socket-factory"),
	}
}

// NewContainer abre o armazenamento de credenciais do protocolo no Postgres
func NewContainer(ctx context.Context, dsn string, log logger.Logger) (*sqlstore.Container, error) {
	container, err := sqlstore.New(ctx, "postgres", dsn, logger.NewWhatsAppLoggerAdapter(log.WithComponent("sqlstore")))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return container, nil
}

// AuthDir resolve o diretório de credenciais de uma sessão
func (f *SocketFactory) AuthDir(sessionID string) string {
	return filepath.Join(f.authRoot, sessionID)
}

// CreateSocket monta um socket para a sessão. Falha fatalmente apenas
// quando o diretório de credenciais não pode ser criado ou o device não
// pode ser carregado.
func (f *SocketFactory) CreateSocket(ctx context.Context, sessionID string) (gateway.Socket, error) {
	authDir := f.AuthDir(sessionID)
	if err := os.MkdirAll(authDir, 0o755); err != nil {
		return nil, domain.NewSessionError(sessionID, "create auth dir", domain.ErrAuthStorage)
	}

	device, err := f.resolveDevice(ctx, sessionID)
	if err != nil {
		return nil, domain.NewSessionError(sessionID, "load device", err)
	}

	f.mu.Lock()
	f.devices[sessionID] = device
	f.mu.Unlock()

	client := whatsmeow.NewClient(device, logger.NewWhatsAppLoggerAdapter(f.log.WithField("session_id", sessionID)))

	return newWMSocket(sessionID, client, f.log), nil
}

// resolveDevice religa o device persistido via snapshot, ou cria um novo
func (f *SocketFactory) resolveDevice(ctx context.Context, sessionID string) (*store.Device, error) {
	if jid, ok := f.readSnapshot(sessionID); ok {
		device, err := f.container.GetDevice(ctx, jid)
		if err == nil && device != nil {
			f.log.Debug().
				Str("session_id", sessionID).
				Str("jid", jid.String()).
				Msg("Reusing persisted device")
			return device, nil
		}
		if err != nil {
			f.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to load persisted device, creating fresh one")
		}
	}
	return f.container.NewDevice(), nil
}

// readSnapshot lê o creds.json da sessão, se existir
func (f *SocketFactory) readSnapshot(sessionID string) (types.JID, bool) {
	data, err := os.ReadFile(filepath.Join(f.AuthDir(sessionID), "creds.json"))
	if err != nil {
		return types.JID{}, false
	}

	var snap credsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.JID == "" {
		return types.JID{}, false
	}

	jid, err := types.ParseJID(snap.JID)
	if err != nil {
		return types.JID{}, false
	}
	return jid, true
}

// PersistCreds grava o snapshot do JID pareado no diretório da sessão
func (f *SocketFactory) PersistCreds(sessionID, jid string) error {
	data, err := json.Marshal(credsSnapshot{JID: jid})
	if err != nil {
		return err
	}

	path := filepath.Join(f.AuthDir(sessionID), "creds.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return domain.NewSessionError(sessionID, "persist creds", domain.ErrAuthStorage)
	}
	return nil
}

// WipeAuth remove o diretório de credenciais da sessão e apaga o device
// correspondente do armazenamento de protocolo. Best-effort.
func (f *SocketFactory) WipeAuth(ctx context.Context, sessionID string) {
	f.mu.Lock()
	device := f.devices[sessionID]
	delete(f.devices, sessionID)
	f.mu.Unlock()

	if device != nil && device.ID != nil {
		if err := device.Delete(ctx); err != nil {
			f.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete device from credential store")
		}
	}

	if err := os.RemoveAll(f.AuthDir(sessionID)); err != nil {
		f.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to remove auth directory")
	}
}

// Forget descarta a referência ao device sem apagar credenciais.
// Usado no shutdown gracioso (preserveAuth).
func (f *SocketFactory) Forget(sessionID string) {
	f.mu.Lock()
	delete(f.devices, sessionID)
	f.mu.Unlock()
}

// QRTerminal informa se QRs devem ser espelhados no terminal (dev)
func (f *SocketFactory) QRTerminal() bool {
	return f.qrTerminal
}
