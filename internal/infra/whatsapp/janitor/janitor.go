package janitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	"zapgate/internal/infra/whatsapp/connection"
	"zapgate/internal/infra/whatsapp/inbound"
	sessionstore "zapgate/internal/infra/whatsapp/session"
	"zapgate/internal/infra/whatsapp/state"
	"zapgate/pkg/logger"
)

// Options reúne os intervalos e limiares dos varredores periódicos
type Options struct {
	DeadSessionInterval time.Duration
	PendingInterval     time.Duration
	PendingTimeout      time.Duration
	HeartbeatInterval   time.Duration
	InactivityThreshold time.Duration
	AudioInterval       time.Duration
	AudioMaxAge         time.Duration
	QueueInterval       time.Duration
	QueueMaxAge         time.Duration
	IdleSweepInterval   time.Duration
	IdleTTL             time.Duration
	InactivityGrace     time.Duration

	AudioDir string
}

// Janitor agrupa os varredores de manutenção do gateway: sessões mortas,
// QRs pendentes, heartbeat, áudios antigos, fila e sessões ociosas.
type Janitor struct {
	opts    Options
	store   *sessionstore.Store
	qr      *connection.QRController
	state   *state.Manager
	control gateway.SessionControl
	conn    gateway.LifecycleSink
	queue   *inbound.Queue
	log     logger.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New cria o conjunto de janitors
func New(
	opts Options,
	store *sessionstore.Store,
	qr *connection.QRController,
	st *state.Manager,
	control gateway.SessionControl,
	conn gateway.LifecycleSink,
	queue *inbound.Queue,
	log logger.Logger,
) *Janitor {
	return &Janitor{
		opts:    opts,
		store:   store,
		qr:      qr,
		state:   st,
		control: control,
		conn:    conn,
		queue:   queue,
		log:     log.WithComponent("janitor"),
		stop:    make(chan struct{}),
	}
}

// Start agenda todos os varredores
func (j *Janitor) Start() {
	j.schedule(j.opts.DeadSessionInterval, j.sweepDeadSessions)
	j.schedule(j.opts.PendingInterval, j.sweepPendingSessions)
	j.schedule(j.opts.HeartbeatInterval, j.sweepHeartbeats)
	j.schedule(j.opts.AudioInterval, j.sweepOldAudios)
	j.schedule(j.opts.QueueInterval, j.sweepQueue)
	j.schedule(j.opts.IdleSweepInterval, j.sweepIdleSessions)
	j.log.Info().Msg("Janitors started")
}

// Stop encerra todos os varredores
func (j *Janitor) Stop() {
	close(j.stop)
	j.wg.Wait()
}

func (j *Janitor) schedule(interval time.Duration, sweep func()) {
	if interval <= 0 {
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stop:
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}

// sweepDeadSessions remove sessões que o control plane não reconhece mais.
// A remoção só acontece após o período de graça e um número consecutivo de
// divergências, para tolerar falhas transitórias de lookup.
func (j *Janitor) sweepDeadSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, rec := range j.store.List() {
		if time.Since(rec.CreatedAt) < j.opts.InactivityGrace {
			continue
		}

		if j.state.IsSessionActiveOpts(ctx, rec.ID, state.ResolveOptions{
			Accepted: []domain.ReportedStatus{domain.StatusActive, domain.StatusConnecting, domain.StatusPending},
		}) {
			j.state.ResetMiss(rec.ID)
			continue
		}

		misses := j.state.RecordMiss(rec.ID)
		if !j.state.ShouldEvict(rec.ID) {
			j.log.Debug().
				Str("session_id", rec.ID).
				Int("misses", misses).
				Msg("Session failed status lookup")
			continue
		}

		j.log.Warn().Str("session_id", rec.ID).Msg("Evicting dead session")
		if err := j.control.RemoveSession(ctx, rec.ID, false); err != nil {
			j.log.Error().Err(err).Str("session_id", rec.ID).Msg("Failed to evict dead session")
		}
	}
}

// sweepPendingSessions remove sessões cujo QR ficou pendente além do prazo
func (j *Janitor) sweepPendingSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, sessionID := range j.qr.PendingSessions(j.opts.PendingTimeout) {
		if j.state.IsSessionActiveOpts(ctx, sessionID, state.ResolveOptions{SkipCache: true}) {
			j.qr.Clear(sessionID)
			continue
		}

		j.log.Info().Str("session_id", sessionID).Msg("Evicting session with expired pending QR")
		j.state.UpdateSessionStatus(ctx, sessionID, domain.StatusInactive, domain.PriorityNormal)
		if err := j.control.RemoveSession(ctx, sessionID, false); err != nil {
			j.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to evict pending session")
		}
	}
}

// sweepHeartbeats pede reconexão para sessões sem eventos de socket há
// mais tempo que o limiar de inatividade
func (j *Janitor) sweepHeartbeats() {
	cutoff := time.Now().Add(-j.opts.InactivityThreshold)

	for _, rec := range j.store.List() {
		if rec.LastActivity.After(cutoff) {
			continue
		}
		if rec.Socket != nil && rec.Socket.Connected() {
			// Conexão viva sem tráfego não é problema
			j.store.Touch(rec.ID)
			continue
		}

		j.log.Warn().
			Str("session_id", rec.ID).
			Time("last_activity", rec.LastActivity).
			Msg("Session heartbeat stale, requesting reconnect")
		j.conn.OnClose(rec.ID, 500)
	}
}

// sweepOldAudios apaga arquivos de áudio mais velhos que o limite
func (j *Janitor) sweepOldAudios() {
	cutoff := time.Now().Add(-j.opts.AudioMaxAge)

	entries, err := os.ReadDir(j.opts.AudioDir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.Warn().Err(err).Msg("Failed to read audio directory")
		}
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.opts.AudioDir, entry.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		j.log.Info().Int("files", removed).Msg("Old audio files removed")
	}
}

// sweepQueue limpa jobs falhos antigos da fila durável
func (j *Janitor) sweepQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	purged, err := j.queue.PurgeOld(ctx, time.Now().Add(-j.opts.QueueMaxAge))
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to purge old inbound jobs")
		return
	}
	if purged > 0 {
		j.log.Info().Int("jobs", purged).Msg("Old inbound jobs purged")
	}
}

// sweepIdleSessions remove sessões sem atividade além do TTL de ociosidade
func (j *Janitor) sweepIdleSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, sessionID := range j.store.IdleSince(time.Now().Add(-j.opts.IdleTTL)) {
		j.log.Info().Str("session_id", sessionID).Msg("Evicting idle session")
		if err := j.control.RemoveSession(ctx, sessionID, false); err != nil {
			j.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to evict idle session")
		}
	}
}
