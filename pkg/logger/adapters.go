package logger

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// ============================================================================
// WHATSMEOW ADAPTER
// ============================================================================

// WhatsAppLoggerAdapter adapta nosso Logger para a interface waLog.Logger
type WhatsAppLoggerAdapter struct {
	logger Logger
}

// NewWhatsAppLoggerAdapter cria adaptador para whatsmeow
func NewWhatsAppLoggerAdapter(logger Logger) waLog.Logger {
	return &WhatsAppLoggerAdapter{logger: logger}
}

func (w *WhatsAppLoggerAdapter) Errorf(msg string, args ...any) {
	w.logger.Error().Msgf(msg, args...)
}

func (w *WhatsAppLoggerAdapter) Warnf(msg string, args ...any) {
	w.logger.Warn().Msgf(msg, args...)
}

func (w *WhatsAppLoggerAdapter) Infof(msg string, args ...any) {
	// O protocolo é verboso demais para INFO em produção
	w.logger.Debug().Msgf(msg, args...)
}

func (w *WhatsAppLoggerAdapter) Debugf(msg string, args ...any) {
	w.logger.Trace().Msgf(msg, args...)
}

func (w *WhatsAppLoggerAdapter) Sub(module string) waLog.Logger {
	if module == "" {
		return w
	}
	return &WhatsAppLoggerAdapter{logger: w.logger.WithComponent(module)}
}

// ============================================================================
// BUN ORM ADAPTER
// ============================================================================

// BunQueryHook implementa hook para logging de queries do Bun ORM
type BunQueryHook struct {
	logger Logger
}

// NewBunQueryHook cria um novo hook para logging de queries do Bun
func NewBunQueryHook(logger Logger) bun.QueryHook {
	return &BunQueryHook{
		logger: logger.WithComponent("database"),
	}
}

// BeforeQuery é chamado antes da execução da query
func (h *BunQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery é chamado após a execução da query
func (h *BunQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	durationMs := duration.Milliseconds()

	if event.Err != nil {
		h.logger.Error().
			Err(event.Err).
			Str("query", h.sanitizeQuery(event.Query)).
			Int64("duration_ms", durationMs).
			Msg("Database query failed")
		return
	}

	// Queries lentas sempre geram WARNING
	if durationMs > 100 {
		h.logger.Warn().
			Str("query", h.sanitizeQuery(event.Query)).
			Int64("duration_ms", durationMs).
			Msg("Slow database query")
		return
	}

	h.logger.Debug().
		Str("operation", h.getQueryOperation(event.Query)).
		Int64("duration_ms", durationMs).
		Msg("DB operation completed")
}

// getQueryOperation extrai o tipo de operação da query
func (h *BunQueryHook) getQueryOperation(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))

	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP"} {
		if strings.HasPrefix(query, op) {
			return op
		}
	}
	return "UNKNOWN"
}

// sanitizeQuery normaliza espaços e encurta a query para logging
func (h *BunQueryHook) sanitizeQuery(query string) string {
	const maxLength = 200
	if len(query) > maxLength {
		query = query[:maxLength] + "..."
	}
	return strings.Join(strings.Fields(query), " ")
}
