package session

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/skip2/go-qrcode"

	"zapgate/internal/domain/gateway"
	domain "zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// GetQRCodeUseCase implementa o caso de uso para obter o QR atual de uma sessão
type GetQRCodeUseCase struct {
	cache  gateway.SharedCache
	logger logger.Logger
}

// NewGetQRCodeUseCase cria uma nova instância do caso de uso
func NewGetQRCodeUseCase(cache gateway.SharedCache, log logger.Logger) *GetQRCodeUseCase {
	return &GetQRCodeUseCase{
		cache:  cache,
		logger: log.WithComponent("get-qr-usecase"),
	}
}

// QRCodeResponse representa o QR atual: o payload cru e o PNG em base64
type QRCodeResponse struct {
	Code  string `json:"code"`
	Image string `json:"image"`
}

// Execute lê o último QR do cache compartilhado e o renderiza como PNG.
// Retorna ErrSessionNotFound quando não há QR pendente para a sessão.
func (uc *GetQRCodeUseCase) Execute(ctx context.Context, sessionID string) (*QRCodeResponse, error) {
	code, err := uc.cache.GetQR(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gateway.ErrCacheMiss) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		uc.logger.WithError(err).WithField("sessionId", sessionID).Error().Msg("Failed to render QR PNG")
		return nil, err
	}

	return &QRCodeResponse{
		Code:  code,
		Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}
