package laravel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/gateway"
	"zapgate/internal/domain/session"
	"zapgate/pkg/logger"
)

func newTestClient(baseURL string, circuit *CircuitBreaker) *Client {
	return NewClient(Options{
		BaseURL:        baseURL,
		RequestTimeout: 5 * time.Second,
		MaxSockets:     10,
		MaxFreeSockets: 2,
		RetryAttempts:  3,
		RetryBase:      time.Millisecond,
	}, circuit, logger.Nop())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"webhook_token":"tok-abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, NewCircuitBreaker(10, time.Minute))

	token, err := c.WebhookToken(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, NewCircuitBreaker(10, time.Minute))

	_, err := c.WebhookToken(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "4xx is not retried")
	assert.False(t, IsRetriable(err))
}

func TestClientFailsFastWhenCircuitOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Limiar 1: a primeira falha abre o circuito e o retry seguinte
	// recebe ErrCircuitOpen sem bater no servidor
	c := newTestClient(srv.URL, NewCircuitBreaker(1, time.Minute))

	_, err := c.WebhookToken(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClientShortCircuitsWhenAlreadyOpen(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	circuit := NewCircuitBreaker(1, time.Minute)
	circuit.Failure()

	c := newTestClient(srv.URL, circuit)

	err := c.PostQRBatch(context.Background(), []gateway.QRBatchItem{{SessionID: "s1", QR: "qr"}})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
	assert.True(t, IsRetriable(err))
}

func TestStatusByTokenParsesReportedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/whatsapp/status/token/tok-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"estado_qr":"active"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, NewCircuitBreaker(10, time.Minute))

	status, err := c.StatusByToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, status)
}

func TestStatusByTokenRejectsUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"estado_qr":"banana"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, NewCircuitBreaker(10, time.Minute))

	_, err := c.StatusByToken(context.Background(), "tok-1")
	assert.Error(t, err)
}

func TestPostWebhookMessageSendsMultipart(t *testing.T) {
	var gotFrom, gotType, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFrom = r.FormValue("from")
		gotType = r.FormValue("type")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, NewCircuitBreaker(10, time.Minute))

	err := c.PostWebhookMessage(context.Background(), "tok-1", gateway.WebhookMessage{
		From:      "5511999999999",
		Text:      "oi",
		Type:      "text",
		WamID:     "wam-1",
		Timestamp: time.Now(),
		PushName:  "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "/whatsapp-webhook/tok-1", gotPath)
	assert.Equal(t, "5511999999999", gotFrom)
	assert.Equal(t, "text", gotType)
}
