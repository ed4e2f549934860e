package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"zapgate/internal/http/responses"
)

// NewRateLimit limita requisições por IP de origem dentro da janela dada.
// O RealIP roda antes na cadeia, então o limite vale para o cliente real
// mesmo atrás do proxy reverso.
func NewRateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			responses.TooManyRequests(w, "Limite de requisições excedido")
		}),
	)
}
