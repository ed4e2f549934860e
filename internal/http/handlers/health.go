package handlers

import (
	"net/http"
	"time"

	"zapgate/internal/http/responses"
	"zapgate/internal/infra/laravel"
	"zapgate/internal/infra/whatsapp/core"
	"zapgate/internal/infra/whatsapp/inbound"
	"zapgate/internal/infra/whatsapp/state"
	"zapgate/pkg/logger"
)

// HealthHandler implementa os handlers de saúde e métricas
type HealthHandler struct {
	manager  *core.Manager
	queue    *inbound.Queue
	receiver *inbound.Receiver
	batcher  *laravel.Batcher
	circuit  *laravel.CircuitBreaker
	state    *state.Manager
	started  time.Time
	logger   logger.Logger
}

// NewHealthHandler cria uma nova instância do health handler
func NewHealthHandler(
	manager *core.Manager,
	queue *inbound.Queue,
	receiver *inbound.Receiver,
	batcher *laravel.Batcher,
	circuit *laravel.CircuitBreaker,
	st *state.Manager,
	log logger.Logger,
) *HealthHandler {
	return &HealthHandler{
		manager:  manager,
		queue:    queue,
		receiver: receiver,
		batcher:  batcher,
		circuit:  circuit,
		state:    st,
		started:  time.Now(),
		logger:   log.WithComponent("health-handler"),
	}
}

// Health reporta o estado geral do gateway
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	queued, active, failed, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn().Msg("Failed to read inbound queue counters")
	}

	successes, failures, avgLatency := h.receiver.MetricsSnapshot()

	responses.Success(w, "OK", map[string]interface{}{
		"status":        "healthy",
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
		"sessions":      len(h.manager.List()),
		"inboundQueue": map[string]interface{}{
			"queued": queued,
			"active": active,
			"failed": failed,
		},
		"inboundProcessing": map[string]interface{}{
			"successes":    successes,
			"failures":     failures,
			"avgLatencyMs": avgLatency.Milliseconds(),
		},
	})
}

// BatchMetrics expõe o snapshot do batcher de saída e do circuit breaker
func (h *HealthHandler) BatchMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.batcher.Metrics(h.circuit.State().String())
	responses.Success(w, "Métricas do batcher", metrics)
}

// CacheMetrics expõe os acertos por camada da resolução de status
func (h *HealthHandler) CacheMetrics(w http.ResponseWriter, r *http.Request) {
	responses.Success(w, "Métricas de cache", h.state.Stats())
}
