package ingress

import (
	"context"
	"net/http"
	"strings"

	"webhook-gateway/middleware/ingress/domain"
)

// TenantFunc extrai o tenant da requisição. Vazio significa "não identificado".
type TenantFunc func(r *http.Request) domain.TenantID

// Admitter é a parte do Limiter usada pelo middleware.
type Admitter interface {
	AdmissionCheck(ctx context.Context, tenant domain.TenantID) domain.Decision
}

type Options struct {
	Limiter      Admitter
	TenantFn     TenantFunc
	TenantHeader string
	RejectStatus int
	// AddRateLimitHeaders expõe X-RateLimit-Tenant e X-RateLimit-Reason.
	AddRateLimitHeaders bool
}

// DefaultTenantFunc procura o tenant, nesta ordem: path value "tenant"
// (rotas como "POST /webhook/{tenant}"), header e query "instance".
func DefaultTenantFunc(header string) TenantFunc {
	return func(r *http.Request) domain.TenantID {
		if v := strings.TrimSpace(r.PathValue("tenant")); v != "" {
			return domain.TenantID(v)
		}
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return domain.TenantID(v)
			}
		}
		// payloads da Evolution API usam "instance" como id da conta
		if v := strings.TrimSpace(r.URL.Query().Get("instance")); v != "" {
			return domain.TenantID(v)
		}
		return ""
	}
}

// Middleware chama AdmissionCheck antes de qualquer processamento do evento.
// Negado: responde RejectStatus (429) com Retry-After e não chama next.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.TenantFn == nil {
		opts.TenantFn = DefaultTenantFunc(opts.TenantHeader)
	}

	return func(next http.Handler) http.Handler {
		if opts.Limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := opts.TenantFn(r)
			if tenant == "" {
				http.Error(w, "missing tenant", http.StatusBadRequest)
				return
			}

			dec := opts.Limiter.AdmissionCheck(r.Context(), tenant)
			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Tenant", string(tenant))
				if dec.Reason != domain.ReasonNone {
					w.Header().Set("X-RateLimit-Reason", string(dec.Reason))
				}
			}
			if !dec.Allowed {
				if s := dec.RetryAfterSeconds(); s > 0 {
					w.Header().Set("Retry-After", formatInt(s))
				}
				http.Error(w, http.StatusText(opts.RejectStatus)+": "+string(dec.Reason), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
