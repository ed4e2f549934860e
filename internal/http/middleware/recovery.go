package middleware

import (
	"net/http"
	"runtime/debug"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"zapgate/internal/http/responses"
	"zapgate/pkg/logger"
)

// NewRecoveryMiddleware intercepta panics dos handlers, registra o stack
// e devolve um 500 no envelope padrão sem derrubar o processo
func NewRecoveryMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					// Abortos deliberados do net/http seguem o fluxo normal
					panic(rec)
				}

				log.WithField("request_id", chimiddleware.GetReqID(r.Context())).
					Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Bytes("stack", debug.Stack()).
					Msg("Handler panicked")

				responses.InternalError(w, "Erro interno do servidor")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
