package cache

import (
	"context"
	"sync"
	"time"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/session"
)

// memoryCache é uma implementação em memória de gateway.SharedCache.
// Usada em testes e como fallback quando o Redis não está configurado.
type memoryCache struct {
	mu sync.RWMutex

	qr          map[string]entry
	status      map[string]entry
	conn        map[string]entry
	info        map[string]infoEntry
	transitions map[string][]session.LifecycleEvent
}

type entry struct {
	value     string
	expiresAt time.Time
}

type infoEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// NewMemoryCache cria um cache compartilhado em memória
func NewMemoryCache() gateway.SharedCache {
	return &memoryCache{
		qr:          make(map[string]entry),
		status:      make(map[string]entry),
		conn:        make(map[string]entry),
		info:        make(map[string]infoEntry),
		transitions: make(map[string][]session.LifecycleEvent),
	}
}

func (c *memoryCache) SetQR(ctx context.Context, sessionID, qr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qr[sessionID] = entry{value: qr, expiresAt: time.Now().Add(qrTTL)}
	return nil
}

func (c *memoryCache) GetQR(ctx context.Context, sessionID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.qr[sessionID]
	if !ok || time.Now().After(e.expiresAt) {
		return "", gateway.ErrCacheMiss
	}
	return e.value, nil
}

func (c *memoryCache) IsNewQR(ctx context.Context, sessionID, qr string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.qr[sessionID]
	if !ok || time.Now().After(e.expiresAt) {
		return true, nil
	}
	return e.value != qr, nil
}

func (c *memoryCache) SetStatus(ctx context.Context, sessionID string, status session.ReportedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[sessionID] = entry{value: string(status), expiresAt: time.Now().Add(statusTTL)}
	return nil
}

func (c *memoryCache) GetStatus(ctx context.Context, sessionID string) (session.ReportedStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.status[sessionID]
	if !ok || time.Now().After(e.expiresAt) {
		return "", gateway.ErrCacheMiss
	}
	return session.ReportedStatus(e.value), nil
}

func (c *memoryCache) SetConnectionState(ctx context.Context, sessionID string, state gateway.ConnectionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn[sessionID] = entry{value: string(state), expiresAt: time.Now().Add(connectionTTL)}
	return nil
}

func (c *memoryCache) SetSessionInfo(ctx context.Context, sessionID string, info map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make(map[string]string)
	if cur, ok := c.info[sessionID]; ok && time.Now().Before(cur.expiresAt) {
		for k, v := range cur.value {
			merged[k] = v
		}
	}
	for k, v := range info {
		merged[k] = v
	}
	c.info[sessionID] = infoEntry{value: merged, expiresAt: time.Now().Add(sessionInfoTTL)}
	return nil
}

func (c *memoryCache) GetSessionInfo(ctx context.Context, sessionID string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.info[sessionID]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, gateway.ErrCacheMiss
	}

	out := make(map[string]string, len(e.value))
	for k, v := range e.value {
		out[k] = v
	}
	return out, nil
}

func (c *memoryCache) PushTransition(ctx context.Context, ev session.LifecycleEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := append([]session.LifecycleEvent{ev}, c.transitions[ev.SessionID]...)
	if len(ring) > transitionCap {
		ring = ring[:transitionCap]
	}
	c.transitions[ev.SessionID] = ring
	return nil
}

func (c *memoryCache) Transitions(ctx context.Context, sessionID string, limit int) ([]session.LifecycleEvent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ring := c.transitions[sessionID]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}

	out := make([]session.LifecycleEvent, limit)
	copy(out, ring[:limit])
	return out, nil
}

func (c *memoryCache) Clear(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.qr, sessionID)
	delete(c.status, sessionID)
	delete(c.conn, sessionID)
	delete(c.info, sessionID)
	delete(c.transitions, sessionID)
	return nil
}
