package app

import (
	"context"

	"github.com/uptrace/bun"

	"zapgate/internal/app/config"
	"zapgate/internal/domain/gateway"
	"zapgate/internal/http/handlers"
	"zapgate/internal/infra/cache"
	"zapgate/internal/infra/database"
	"zapgate/internal/infra/laravel"
	"zapgate/internal/infra/media"
	"zapgate/internal/infra/whatsapp/connection"
	"zapgate/internal/infra/whatsapp/core"
	"zapgate/internal/infra/whatsapp/inbound"
	"zapgate/internal/infra/whatsapp/janitor"
	"zapgate/internal/infra/whatsapp/outbound"
	sessionstore "zapgate/internal/infra/whatsapp/session"
	"zapgate/internal/infra/whatsapp/state"
	messageUseCases "zapgate/internal/usecases/message"
	sessionUseCases "zapgate/internal/usecases/session"
	"zapgate/pkg/logger"
)

// Container monta e gerencia todas as dependências da aplicação
type Container struct {
	Config *config.Config
	DB     *bun.DB
	Logger logger.Logger

	Cache   gateway.SharedCache
	Circuit *laravel.CircuitBreaker
	Plane   *laravel.Client
	Batcher *laravel.Batcher

	Store    *sessionstore.Store
	Factory  *core.SocketFactory
	State    *state.Manager
	QR       *connection.QRController
	ConnMgr  *connection.Manager
	Manager  *core.Manager
	Queue    *inbound.Queue
	Receiver *inbound.Receiver
	Sender   *outbound.Sender
	Janitor  *janitor.Janitor

	SessionHandler *handlers.SessionHandler
	MessageHandler *handlers.MessageHandler
	HealthHandler  *handlers.HealthHandler
}

// NewContainer monta o grafo de dependências completo do gateway
func NewContainer(ctx context.Context, cfg *config.Config, db *bun.DB, log logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log.WithComponent("di-container"),
	}

	sessionRepo := database.NewSessionRepository(db)
	inboundRepo := database.NewInboundRepository(db)

	// Cache compartilhado: Redis, com fallback em memória quando indisponível
	sharedCache, err := cache.NewRedisCache(ctx, cfg.GetRedisAddr(), cfg.Redis.DB, log)
	if err != nil {
		c.Logger.WithError(err).Warn().Msg("Redis unavailable, falling back to in-memory shared cache")
		sharedCache = cache.NewMemoryCache()
	}
	c.Cache = sharedCache

	// Control plane
	c.Circuit = laravel.NewCircuitBreaker(cfg.Batch.CircuitThreshold, cfg.Batch.CircuitReset)
	c.Plane = laravel.NewClient(laravel.Options{
		BaseURL:        cfg.Laravel.BaseURL,
		RequestTimeout: cfg.Laravel.RequestTimeout,
		MaxSockets:     cfg.Laravel.MaxSockets,
		MaxFreeSockets: cfg.Laravel.MaxFreeSockets,
		RetryAttempts:  cfg.Laravel.RetryAttempts,
		RetryBase:      cfg.Laravel.RetryBase,
		RetryJitter:    cfg.Laravel.RetryJitter,
	}, c.Circuit, log)

	c.Batcher = laravel.NewBatcher(laravel.BatcherOptions{
		BatchSize:        cfg.Batch.Size,
		QRInterval:       cfg.Batch.QRInterval,
		StatusInterval:   cfg.Batch.StatusInterval,
		QRMinGap:         cfg.Batch.QRMinGap,
		StatusMinGapHigh: cfg.Batch.StatusMinGapHigh,
		StatusMinGap:     cfg.Batch.StatusMinGap,
	}, c.Plane, log)

	// Estado multinível
	c.State = state.NewManager(state.Options{
		LocalTTL:      cfg.Janitor.LocalStatusTTL,
		MissThreshold: cfg.Janitor.ConsecutiveMissLimit,
	}, sharedCache, c.Plane, c.Batcher, log)

	c.QR = connection.NewQRController(connection.QROptions{
		Throttle: cfg.QR.ThrottleMs,
		MaxSends: cfg.QR.MaxSends,
		Expires:  cfg.QR.Expires,
	}, sharedCache, c.Batcher, c.State, log)

	// Núcleo WhatsApp
	c.Store = sessionstore.NewStore(cfg.WhatsApp.MaxSessions)

	wmContainer, err := core.NewContainer(ctx, cfg.GetDatabaseDSN(), log)
	if err != nil {
		return nil, err
	}
	c.Factory = core.NewSocketFactory(wmContainer, cfg.WhatsApp.AuthRoot, cfg.WhatsApp.QRTerminal, log)

	// Pipeline de entrada
	resolver := inbound.NewLIDResolver(cfg.WhatsApp.AuthRoot, log)
	c.Receiver = inbound.NewReceiver(resolver, c.State, c.Plane, inbound.ReceiverOptions{
		AudioDir:      cfg.WhatsApp.AudioDir,
		MaxMessageAge: cfg.Inbound.MaxMessageAge,
	}, log)

	c.Queue = inbound.NewQueue(inboundRepo, inbound.QueueOptions{
		Concurrency: cfg.Inbound.Concurrency,
		MaxAttempts: cfg.Inbound.MaxAttempts,
		BackoffBase: cfg.Inbound.BackoffBase,
		JobTimeout:  cfg.Inbound.JobTimeout,
	}, c.Receiver.Process, log)
	c.Receiver.BindQueue(c.Queue)

	c.Manager = core.NewManager(c.Store, c.Factory, sessionRepo, sharedCache, c.Plane, c.QR, c.State, c.Receiver, log)
	c.Receiver.SetSocketProvider(c.Manager)

	// Reconexão
	c.ConnMgr = connection.NewManager(c.Store, c.QR, connection.BackoffPolicy{
		FastAttempts:    cfg.Reconnect.FastAttempts,
		FastBase:        cfg.Reconnect.FastBackoffBase,
		FastMax:         cfg.Reconnect.FastBackoffMax,
		ResilienceSteps: cfg.Reconnect.ResilienceSchedule,
		MaxDuration:     cfg.Reconnect.MaxDuration,
	}, c.State, c.State, c.Manager, c.State, log)
	c.Manager.SetLifecycleSink(c.ConnMgr)

	// Saída
	c.Sender = outbound.NewSender(c.Manager, media.NewProcessor(log), outbound.SenderOptions{
		Timeout: cfg.Sender.Timeout,
		Retries: cfg.Sender.Retries,
	}, log)

	// Janitors
	c.Janitor = janitor.New(janitor.Options{
		DeadSessionInterval: cfg.Janitor.DeadSessionInterval,
		PendingInterval:     cfg.Janitor.PendingInterval,
		PendingTimeout:      cfg.Janitor.PendingTimeout,
		HeartbeatInterval:   cfg.Janitor.HeartbeatInterval,
		InactivityThreshold: cfg.Janitor.InactivityThreshold,
		AudioInterval:       cfg.Janitor.AudioInterval,
		AudioMaxAge:         cfg.Janitor.AudioMaxAge,
		QueueInterval:       cfg.Janitor.QueueInterval,
		QueueMaxAge:         cfg.Janitor.QueueMaxAge,
		IdleSweepInterval:   cfg.Janitor.IdleSweepInterval,
		IdleTTL:             cfg.Janitor.IdleTTL,
		InactivityGrace:     cfg.Janitor.InactivityGracePeriod,
		AudioDir:            cfg.WhatsApp.AudioDir,
	}, c.Store, c.QR, c.State, c.Manager, c.ConnMgr, c.Queue, log)

	c.initHandlers(log)

	c.Logger.Info().Msg("Container initialized successfully")
	return c, nil
}

func (c *Container) initHandlers(log logger.Logger) {
	startUC := sessionUseCases.NewStartSessionUseCase(c.Manager, c.Factory, log)
	deleteUC := sessionUseCases.NewDeleteSessionUseCase(c.Manager, c.State, log)
	getUC := sessionUseCases.NewGetSessionUseCase(c.Manager, log)
	listUC := sessionUseCases.NewListSessionsUseCase(c.Manager, c.QR, log)
	qrUC := sessionUseCases.NewGetQRCodeUseCase(c.Cache, log)
	cleanupInactiveUC := sessionUseCases.NewCleanupInactiveUseCase(c.Store, c.State, c.Manager, log)
	cleanupPendingUC := sessionUseCases.NewCleanupPendingUseCase(c.QR, c.State, c.Manager, log)
	sendUC := messageUseCases.NewSendMessageUseCase(c.Sender, log)

	c.SessionHandler = handlers.NewSessionHandler(
		startUC, deleteUC, getUC, listUC, qrUC, cleanupInactiveUC, cleanupPendingUC, log,
	)
	c.MessageHandler = handlers.NewMessageHandler(sendUC, log)
	c.HealthHandler = handlers.NewHealthHandler(
		c.Manager, c.Queue, c.Receiver, c.Batcher, c.Circuit, c.State, log,
	)
}

// Start inicia os componentes de fundo: fila de entrada, batcher, janitors
// e a restauração das sessões ativas do control plane
func (c *Container) Start(ctx context.Context) error {
	if err := c.Queue.Start(ctx); err != nil {
		return err
	}
	c.Batcher.Run()
	c.Janitor.Start()

	go c.Manager.RestoreSessions(ctx)
	return nil
}

// Stop encerra os componentes na ordem inversa da inicialização: janitors,
// sessões (preservando credenciais), batcher (com flush final) e fila
func (c *Container) Stop(ctx context.Context) {
	c.Janitor.Stop()
	c.Manager.Shutdown(ctx)
	c.Batcher.Stop(ctx)
	c.Queue.Shutdown(ctx)

	c.Logger.Info().Msg("Container stopped")
}
