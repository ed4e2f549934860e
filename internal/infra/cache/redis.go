package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// TTLs por tipo de entrada no cache compartilhado
const (
	qrTTL          = 60 * time.Second
	statusTTL      = 120 * time.Second
	connectionTTL  = 30 * time.Second
	sessionInfoTTL = 300 * time.Second

	transitionCap = 50
)

// redisCache implementa gateway.SharedCache sobre Redis.
// É a camada intermediária entre o cache local em memória e o control plane.
type redisCache struct {
	client *redis.Client
	log    logger.Logger
}

// NewRedisCache cria o cache compartilhado e valida a conexão
func NewRedisCache(ctx context.Context, addr string, db int, log logger.Logger) (gateway.SharedCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &redisCache{
		client: client,
		log:    log.WithComponent("shared-cache"),
	}, nil
}

func qrKey(sessionID string) string          { return "zapgate:qr:" + sessionID }
func statusKey(sessionID string) string      { return "zapgate:status:" + sessionID }
func connKey(sessionID string) string        { return "zapgate:conn:" + sessionID }
func infoKey(sessionID string) string        { return "zapgate:info:" + sessionID }
func transitionsKey(sessionID string) string { return "zapgate:transitions:" + sessionID }

func (c *redisCache) SetQR(ctx context.Context, sessionID, qr string) error {
	return c.client.Set(ctx, qrKey(sessionID), qr, qrTTL).Err()
}

func (c *redisCache) GetQR(ctx context.Context, sessionID string) (string, error) {
	val, err := c.client.Get(ctx, qrKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", gateway.ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

// IsNewQR retorna false quando o QR é idêntico ao último registrado
func (c *redisCache) IsNewQR(ctx context.Context, sessionID, qr string) (bool, error) {
	last, err := c.client.Get(ctx, qrKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, err
	}
	return last != qr, nil
}

func (c *redisCache) SetStatus(ctx context.Context, sessionID string, status session.ReportedStatus) error {
	return c.client.Set(ctx, statusKey(sessionID), string(status), statusTTL).Err()
}

func (c *redisCache) GetStatus(ctx context.Context, sessionID string) (session.ReportedStatus, error) {
	val, err := c.client.Get(ctx, statusKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", gateway.ErrCacheMiss
		}
		return "", err
	}
	return session.ReportedStatus(val), nil
}

func (c *redisCache) SetConnectionState(ctx context.Context, sessionID string, state gateway.ConnectionState) error {
	return c.client.Set(ctx, connKey(sessionID), string(state), connectionTTL).Err()
}

func (c *redisCache) SetSessionInfo(ctx context.Context, sessionID string, info map[string]string) error {
	if len(info) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, infoKey(sessionID), info)
	pipe.Expire(ctx, infoKey(sessionID), sessionInfoTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) GetSessionInfo(ctx context.Context, sessionID string) (map[string]string, error) {
	info, err := c.client.HGetAll(ctx, infoKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(info) == 0 {
		return nil, gateway.ErrCacheMiss
	}
	return info, nil
}

// PushTransition adiciona ao ring de eventos da sessão, mantendo o cap
func (c *redisCache) PushTransition(ctx context.Context, ev session.LifecycleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	key := transitionsKey(ev.SessionID)
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, transitionCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *redisCache) Transitions(ctx context.Context, sessionID string, limit int) ([]session.LifecycleEvent, error) {
	if limit <= 0 || limit > transitionCap {
		limit = transitionCap
	}

	raw, err := c.client.LRange(ctx, transitionsKey(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]session.LifecycleEvent, 0, len(raw))
	for _, item := range raw {
		var ev session.LifecycleEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Skipping malformed transition entry")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Clear remove todas as entradas da sessão no cache compartilhado
func (c *redisCache) Clear(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx,
		qrKey(sessionID),
		statusKey(sessionID),
		connKey(sessionID),
		infoKey(sessionID),
		transitionsKey(sessionID),
	).Err()
}
