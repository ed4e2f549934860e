package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"zapgate/internal/domain/message"
	"zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// NewDatabase cria uma nova conexão com o banco de dados PostgreSQL
func NewDatabase(dsn string, debug bool, log logger.Logger) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	if debug {
		db.AddQueryHook(logger.NewBunQueryHook(log))
	}

	// Pool de conexões: workers da fila de entrada + repositório de sessões
	sqldb.SetMaxOpenConns(25)
	sqldb.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// RunMigrations executa as migrações do banco de dados
func RunMigrations(db *bun.DB) error {
	ctx := context.Background()

	_, err := db.NewCreateTable().
		Model((*session.Session)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = db.NewCreateTable().
		Model((*message.InboundJob)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create inbound jobs table: %w", err)
	}

	// Índice de claim da fila durável
	_, err = db.NewCreateIndex().
		Model((*message.InboundJob)(nil)).
		Index("idx_inbound_jobs_claim").
		IfNotExists().
		Column("status", "available_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create inbound jobs index: %w", err)
	}

	return nil
}
