package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"zapgate/internal/app"
	"zapgate/internal/app/config"
	"zapgate/internal/app/server"
	"zapgate/internal/http/router"
	"zapgate/internal/infra/database"
	"zapgate/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	log := logger.Setup(cfg).WithComponent("main")

	log.WithFields(map[string]interface{}{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	}).Info().Msg("Starting zapgate")

	db, err := database.NewDatabase(cfg.GetDatabaseDSN(), cfg.App.Env == "development", log)
	if err != nil {
		log.WithError(err).Fatal().Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.WithError(err).Fatal().Msg("Failed to run migrations")
	}

	ctx := context.Background()
	container, err := app.NewContainer(ctx, cfg, db, log)
	if err != nil {
		log.WithError(err).Fatal().Msg("Failed to initialize container")
	}

	if err := container.Start(ctx); err != nil {
		log.WithError(err).Fatal().Msg("Failed to start background components")
	}

	handler := router.New(cfg, log, container.SessionHandler, container.MessageHandler, container.HealthHandler)
	srv := server.New(cfg, handler, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal().Msg("Failed to start server")
		}
	}()

	log.Info().Msg("zapgate started successfully")

	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error().Msg("Error during server shutdown")
	}
	container.Stop(shutdownCtx)

	log.Info().Msg("Application stopped")
}
