package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zapgate/internal/app/config"
	"zapgate/internal/http/handlers"
	appMiddleware "zapgate/internal/http/middleware"
	"zapgate/pkg/logger"
)

// Router representa o roteador principal da aplicação
type Router struct {
	*chi.Mux
	config         *config.Config
	logger         logger.Logger
	sessionHandler *handlers.SessionHandler
	messageHandler *handlers.MessageHandler
	healthHandler  *handlers.HealthHandler
}

// New cria uma nova instância do router
func New(
	cfg *config.Config,
	log logger.Logger,
	sessionHandler *handlers.SessionHandler,
	messageHandler *handlers.MessageHandler,
	healthHandler *handlers.HealthHandler,
) *Router {
	r := &Router{
		Mux:            chi.NewRouter(),
		config:         cfg,
		logger:         log.WithComponent("router"),
		sessionHandler: sessionHandler,
		messageHandler: messageHandler,
		healthHandler:  healthHandler,
	}

	r.setupMiddlewares()
	r.setupRoutes()

	return r
}

// setupMiddlewares configura os middlewares globais
func (r *Router) setupMiddlewares() {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(appMiddleware.NewCORS(r.config.CORS.AllowedOrigins))
	r.Use(appMiddleware.NewLoggingMiddleware(r.logger))
	r.Use(appMiddleware.NewRecoveryMiddleware(r.logger))
	r.Use(appMiddleware.NewRateLimit(r.config.RateLimit.Requests, r.config.RateLimit.Window))
}

// setupRoutes configura as rotas da aplicação
func (r *Router) setupRoutes() {
	// Saúde e métricas
	r.Get("/health", r.healthHandler.Health)
	r.Get("/metrics/batch", r.healthHandler.BatchMetrics)
	r.Get("/metrics/cache", r.healthHandler.CacheMetrics)

	// Ciclo de vida de sessões
	r.Post("/start", r.sessionHandler.StartSession)
	r.Post("/delete-session", r.sessionHandler.DeleteSessionBody)
	r.Get("/sessions", r.sessionHandler.ListSessions)
	r.Route("/session/{sessionID}", func(rt chi.Router) {
		rt.Get("/", r.sessionHandler.GetSession)
		rt.Delete("/", r.sessionHandler.DeleteSession)
		rt.Get("/qr", r.sessionHandler.GetQRCode)
	})

	// Limpezas sob demanda
	r.Post("/cleanup-inactive-sessions", r.sessionHandler.CleanupInactive)
	r.Post("/cleanup-pending-sessions", r.sessionHandler.CleanupPending)

	// Envio de mensagens
	r.Post("/send-message", r.messageHandler.SendMessage)
	r.Post("/send", r.messageHandler.SendLegacy)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"Endpoint não encontrado","error":{"code":"NOT_FOUND"}}`))
	})
}
