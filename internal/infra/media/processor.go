package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	"github.com/vincent-petithory/dataurl"

	"zapgate/pkg/logger"
)

const (
	minMediaSize = 1024
	maxMediaSize = 50 * 1024 * 1024
	stickerEdge  = 512
)

// Processor busca e prepara mídia para envio: download por URL, decodificação
// de data URLs e conversão de imagens para o formato de sticker do protocolo.
type Processor struct {
	http *http.Client
	log  logger.Logger
}

// NewProcessor cria o processador de mídia
func NewProcessor(log logger.Logger) *Processor {
	return &Processor{
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log.WithComponent("media"),
	}
}

// Fetch resolve a origem da mídia: URL HTTP(S) ou data URL base64
func (p *Processor) Fetch(ctx context.Context, source string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return p.download(ctx, source)
	case strings.HasPrefix(source, "data:"):
		return p.decodeDataURL(source)
	default:
		return nil, "", fmt.Errorf("unsupported media source (expected http(s) URL or data URL)")
	}
}

func (p *Processor) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if len(data) > maxMediaSize {
		return nil, "", fmt.Errorf("media too large (max %d bytes)", maxMediaSize)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func (p *Processor) decodeDataURL(source string) ([]byte, string, error) {
	decoded, err := dataurl.DecodeString(source)
	if err != nil {
		return nil, "", fmt.Errorf("decode data URL: %w", err)
	}
	return decoded.Data, decoded.MediaType.ContentType(), nil
}

// ToSticker converte a imagem para WEBP 512x512, requisito do protocolo.
// Em caso de falha de decodificação, devolve os dados originais.
func (p *Processor) ToSticker(data []byte) ([]byte, string) {
	contentType := http.DetectContentType(data)
	if contentType == "image/webp" {
		return data, contentType
	}

	var img image.Image
	var err error
	reader := bytes.NewReader(data)

	switch contentType {
	case "image/png":
		img, err = png.Decode(reader)
	case "image/jpeg":
		img, err = jpeg.Decode(reader)
	default:
		img, err = png.Decode(reader)
		if err != nil {
			_, _ = reader.Seek(0, io.SeekStart)
			img, err = jpeg.Decode(reader)
		}
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to decode image for sticker conversion, sending original")
		return data, contentType
	}

	resized := resize.Resize(stickerEdge, stickerEdge, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, &webp.Options{Quality: 80}); err != nil {
		p.log.Warn().Err(err).Msg("Failed to encode sticker WEBP, sending original")
		return data, contentType
	}
	return buf.Bytes(), "image/webp"
}
