package ingress

import (
	"net/http"
	"time"

	"cdr.dev/slog/v3"

	"webhook-gateway/middleware/ingress/application"
	"webhook-gateway/middleware/ingress/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// RetryAfter vai no header Retry-After da rejeição; provedores de webhook
	// reenviam a entrega depois desse intervalo. Padrão 1s.
	RetryAfter time.Duration
	// OnReject é chamado a cada entrega rejeitada por falta de vaga (métricas).
	OnReject func()
	Logger   slog.Logger
}

// ConcurrencyMiddleware limita quantas entregas de webhook ficam em voo ao mesmo
// tempo. Sem vaga dentro de AcquireTimeout, a entrega volta com RejectStatus e
// Retry-After para o provedor tentar de novo.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	retryAfter := formatInt(int((opts.RetryAfter + time.Second - 1) / time.Second))

	slots := application.ConcurrencyService{
		Pool:           infra.NewSlotPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := slots.Acquire(r.Context())
			if !ok {
				if opts.OnReject != nil {
					opts.OnReject()
				}
				opts.Logger.Debug(r.Context(), "webhook delivery rejected, no in-flight slot",
					slog.F("path", r.URL.Path),
					slog.F("max_in_flight", opts.Max),
				)
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
