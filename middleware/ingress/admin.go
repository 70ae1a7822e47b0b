package ingress

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"cdr.dev/slog/v3"
	"golang.org/x/time/rate"

	"webhook-gateway/middleware/ingress/domain"
)

// Admin é a superfície administrativa do Limiter.
type Admin interface {
	TenantStats(ctx context.Context, tenant domain.TenantID) (domain.TenantStats, error)
	GlobalStats(ctx context.Context) (domain.GlobalStats, error)
	BlockedTenants(ctx context.Context) ([]domain.BlockedTenant, error)
	Unblock(ctx context.Context, tenant domain.TenantID) domain.AdminResult
	TopTenants(ctx context.Context, limit int) ([]domain.TenantUsage, error)
}

type AdminOptions struct {
	Admin Admin
	// Token é exigido em "Authorization: Bearer <token>". Vazio desliga as rotas.
	Token string
	// RPS/Burst limitam o tráfego administrativo total (token bucket local).
	RPS    float64
	Burst  int
	Logger slog.Logger
}

// AdminHandler monta as rotas:
//
//	GET  /admin/rate-limit/stats[?tenant=]
//	GET  /admin/rate-limit/blocked
//	GET  /admin/rate-limit/top[?limit=]
//	POST /admin/rate-limit/unblock/{tenant}
func AdminHandler(opts AdminOptions) http.Handler {
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	h := &adminHandler{
		admin:  opts.Admin,
		token:  opts.Token,
		lim:    rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		logger: opts.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/rate-limit/stats", h.stats)
	mux.HandleFunc("GET /admin/rate-limit/blocked", h.blocked)
	mux.HandleFunc("GET /admin/rate-limit/top", h.top)
	mux.HandleFunc("POST /admin/rate-limit/unblock/{tenant}", h.unblock)
	return h.guard(mux)
}

type adminHandler struct {
	admin  Admin
	token  string
	lim    *rate.Limiter
	logger slog.Logger
}

func (h *adminHandler) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" || h.admin == nil {
			http.NotFound(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(h.token)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !h.lim.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *adminHandler) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	global, err := h.admin.GlobalStats(ctx)
	if err != nil {
		h.fail(w, r, "global stats", err)
		return
	}
	out := map[string]any{"global": global}
	if tenant := strings.TrimSpace(r.URL.Query().Get("tenant")); tenant != "" {
		st, err := h.admin.TenantStats(ctx, domain.TenantID(tenant))
		if err != nil {
			h.fail(w, r, "tenant stats", err)
			return
		}
		out["tenant"] = st
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": out})
}

func (h *adminHandler) blocked(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.BlockedTenants(r.Context())
	if err != nil {
		h.fail(w, r, "blocked tenants", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"total":           len(list),
		"blocked_tenants": list,
	})
}

func (h *adminHandler) top(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	usage, err := h.admin.TopTenants(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "top tenants", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "top_tenants": usage})
}

func (h *adminHandler) unblock(w http.ResponseWriter, r *http.Request) {
	tenant := domain.TenantID(strings.TrimSpace(r.PathValue("tenant")))
	if tenant == "" {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}
	res := h.admin.Unblock(r.Context(), tenant)
	writeJSON(w, http.StatusOK, res)
}

func (h *adminHandler) fail(w http.ResponseWriter, r *http.Request, what string, err error) {
	h.logger.Error(r.Context(), "admin request failed", slog.F("what", what), slog.Error(err))
	status := http.StatusInternalServerError
	if domain.IsStoreUnavailable(err) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, domain.AdminResult{Success: false, Message: what + ": " + err.Error()})
}
