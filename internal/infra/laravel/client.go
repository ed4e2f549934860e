package laravel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

// Options configura o cliente do control plane
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxSockets     int
	MaxFreeSockets int
	RetryAttempts  int
	RetryBase      time.Duration
	RetryJitter    time.Duration
}

// Client implementa gateway.ControlPlane sobre a API HTTP do Laravel.
// Todas as chamadas passam pelo circuit breaker compartilhado.
type Client struct {
	baseURL string
	http    *http.Client
	circuit *CircuitBreaker
	opts    Options
	log     logger.Logger
}

// NewClient cria o cliente com pool de conexões dimensionado para muitas
// sessões concorrentes
func NewClient(opts Options, circuit *CircuitBreaker, log logger.Logger) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     opts.MaxSockets,
		MaxIdleConns:        opts.MaxFreeSockets,
		MaxIdleConnsPerHost: opts.MaxFreeSockets,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.RequestTimeout,
		},
		circuit: circuit,
		opts:    opts,
		log:     log.WithComponent("laravel"),
	}
}

// Circuit expõe o circuit breaker para métricas
func (c *Client) Circuit() *CircuitBreaker {
	return c.circuit
}

// ActiveAccounts retorna as contas ativas para restauração no boot
func (c *Client) ActiveAccounts(ctx context.Context) ([]gateway.Account, error) {
	var accounts []gateway.Account
	if err := c.getJSON(ctx, "/whatsapp/accounts/active", &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// WebhookToken busca o webhook token de uma sessão
func (c *Client) WebhookToken(ctx context.Context, sessionID string) (string, error) {
	var resp struct {
		WebhookToken string `json:"webhook_token"`
	}
	if err := c.getJSON(ctx, "/whatsapp/account/"+sessionID, &resp); err != nil {
		return "", err
	}
	return resp.WebhookToken, nil
}

// StatusByToken consulta o status autoritativo de uma sessão no control plane
func (c *Client) StatusByToken(ctx context.Context, webhookToken string) (session.ReportedStatus, error) {
	var resp struct {
		EstadoQR string `json:"estado_qr"`
	}
	if err := c.getJSON(ctx, "/whatsapp/status/token/"+webhookToken, &resp); err != nil {
		return "", err
	}

	status := session.ReportedStatus(resp.EstadoQR)
	if !session.IsValidStatus(status) {
		return "", fmt.Errorf("control plane returned unknown status %q", resp.EstadoQR)
	}
	return status, nil
}

// PostQRBatch envia um lote coalescido de QRs
func (c *Client) PostQRBatch(ctx context.Context, items []gateway.QRBatchItem) error {
	body := map[string]any{"qrs": items}
	return c.postJSON(ctx, "/qr/batch", body)
}

// PostStatusBatch envia um lote coalescido de status (alta prioridade primeiro)
func (c *Client) PostStatusBatch(ctx context.Context, items []gateway.StatusBatchItem) error {
	body := map[string]any{"statuses": items}
	return c.postJSON(ctx, "/whatsapp/status/batch", body)
}

// PostLifecycleBatch envia um lote de eventos de ciclo de vida
func (c *Client) PostLifecycleBatch(ctx context.Context, events []session.LifecycleEvent) error {
	body := map[string]any{"events": events}
	return c.postJSON(ctx, "/whatsapp/lifecycle/batch", body)
}

// PostWebhookMessage entrega uma mensagem recebida ao webhook do tenant,
// como multipart. Arquivos de áudio são anexados quando presentes.
func (c *Client) PostWebhookMessage(ctx context.Context, webhookToken string, msg gateway.WebhookMessage) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"from":      msg.From,
		"text":      msg.Text,
		"type":      msg.Type,
		"wamId":     msg.WamID,
		"timestamp": msg.Timestamp.Format(time.RFC3339),
		"pushName":  msg.PushName,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}

	if msg.AudioPath != "" {
		file, err := os.Open(msg.AudioPath)
		if err != nil {
			return fmt.Errorf("open audio file: %w", err)
		}
		defer file.Close()

		part, err := writer.CreateFormFile("audio", filepath.Base(msg.AudioPath))
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, file); err != nil {
			return err
		}
	}

	if err := writer.Close(); err != nil {
		return err
	}

	url := c.baseURL + "/whatsapp-webhook/" + webhookToken
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.execute(req, nil)
}

// getJSON faz um GET com retry e decodifica a resposta
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		return c.execute(req, out)
	})
}

// postJSON faz um POST com retry
func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	return c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.execute(req, nil)
	})
}

// execute passa a chamada pelo circuit breaker e classifica o resultado
func (c *Client) execute(req *http.Request, out any) error {
	if err := c.circuit.Allow(); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.circuit.Failure()
		return &retriableError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.circuit.Failure()
		err := fmt.Errorf("control plane returned %d for %s %s", resp.StatusCode, req.Method, req.URL.Path)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &retriableError{err: err}
		}
		return err
	}

	c.circuit.Success()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return nil
}

// retriableError marca erros elegíveis para retry (429, 5xx, transporte)
type retriableError struct {
	err error
}

func (e *retriableError) Error() string { return e.err.Error() }
func (e *retriableError) Unwrap() error { return e.err }

// IsRetriable verifica se um erro justifica nova tentativa
func IsRetriable(err error) bool {
	var re *retriableError
	return err != nil && (err == ErrCircuitOpen || asRetriable(err, &re))
}

func asRetriable(err error, target **retriableError) bool {
	for err != nil {
		if re, ok := err.(*retriableError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// withRetry aplica a política de retry de chamadas diretas:
// backoffBase × 2^(n-1) + uniform(0, jitter), apenas para erros retriáveis
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if lastErr == ErrCircuitOpen {
			// Circuito aberto falha rápido: retry não ajuda aqui
			return lastErr
		}

		var re *retriableError
		if !asRetriable(lastErr, &re) {
			return lastErr
		}
		if attempt == c.opts.RetryAttempts {
			break
		}

		delay := c.opts.RetryBase * time.Duration(1<<(attempt-1))
		if c.opts.RetryJitter > 0 {
			delay += time.Duration(rand.Int63n(int64(c.opts.RetryJitter)))
		}

		c.log.Debug().
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(lastErr).
			Msg("Retrying control plane call")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
