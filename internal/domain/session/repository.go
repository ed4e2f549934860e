package session

import (
	"context"
	"time"
)

// Repository define as operações de persistência de metadados de sessão
type Repository interface {
	Create(ctx context.Context, sess *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Update(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status ReportedStatus) error
	UpdateJID(ctx context.Context, id string, waJID string) error
	UpdateActivity(ctx context.Context, id string, at time.Time) error
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error
}
