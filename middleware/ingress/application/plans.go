package application

import (
	"context"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"webhook-gateway/middleware/ingress/domain"
)

// PlanResolver traduz um tenant no seu limite por minuto.
//
// Mantém um cache em processo (tenant -> plano, fetchedAt). Entradas vencidas são
// recarregadas de forma preguiçosa na próxima admissão; mudanças de plano no banco
// só aparecem depois que a entrada expira. Não há invalidação ativa.
type PlanResolver struct {
	lookup domain.PlanLookup
	cfg    Config
	clock  quartz.Clock
	logger slog.Logger

	mu    sync.Mutex
	cache map[domain.TenantID]planCacheEntry
	group singleflight.Group
}

type planCacheEntry struct {
	plan      domain.Plan
	fetchedAt time.Time
}

type PlanResolverOption func(*PlanResolver)

func WithPlanClock(c quartz.Clock) PlanResolverOption {
	return func(r *PlanResolver) { r.clock = c }
}

func WithPlanLogger(l slog.Logger) PlanResolverOption {
	return func(r *PlanResolver) { r.logger = l }
}

// NewPlanResolver cria o resolver. lookup pode ser nil: todo tenant cai no plano padrão.
func NewPlanResolver(lookup domain.PlanLookup, cfg Config, opts ...PlanResolverOption) *PlanResolver {
	r := &PlanResolver{
		lookup: lookup,
		cfg:    cfg.withDefaults(),
		clock:  quartz.NewReal(),
		cache:  make(map[domain.TenantID]planCacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveLimit devolve o limite por minuto do tenant. Nunca falha.
func (r *PlanResolver) ResolveLimit(ctx context.Context, tenant domain.TenantID) int64 {
	return r.Resolve(ctx, tenant).LimitPerMinute
}

func (r *PlanResolver) Resolve(ctx context.Context, tenant domain.TenantID) domain.Plan {
	now := r.clock.Now()

	r.mu.Lock()
	ent, ok := r.cache[tenant]
	r.mu.Unlock()
	if ok && now.Sub(ent.fetchedAt) < r.cfg.PlanCacheTTL {
		return ent.plan
	}

	// Várias admissões simultâneas do mesmo tenant com cache vencido fazem uma só consulta.
	// A consulta é compartilhada: não herda o cancelamento de quem chegou primeiro,
	// só o prazo próprio.
	v, _, _ := r.group.Do(string(tenant), func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PlanLookupTimeout)
		defer cancel()
		plan, err := r.fetch(lookupCtx, tenant)
		if err != nil {
			r.logger.Warn(ctx, "plan lookup failed, using default plan",
				slog.F("tenant", tenant),
				slog.F("default_plan", r.cfg.DefaultPlan),
				slog.Error(err),
			)
			// Falha de consulta não vai para o cache: a próxima admissão tenta de novo.
			return plan, nil
		}
		r.mu.Lock()
		r.cache[tenant] = planCacheEntry{plan: plan, fetchedAt: r.clock.Now()}
		r.mu.Unlock()
		return plan, nil
	})
	return v.(domain.Plan)
}

// fetch consulta o banco. Em erro, devolve o plano padrão junto com o erro.
func (r *PlanResolver) fetch(ctx context.Context, tenant domain.TenantID) (domain.Plan, error) {
	fallback := domain.Plan{
		Name:           r.cfg.DefaultPlan,
		LimitPerMinute: r.cfg.fallbackLimit(),
		Fallback:       true,
	}
	if r.lookup == nil {
		return fallback, nil
	}

	name, err := r.lookup.ActivePlan(ctx, tenant)
	if err != nil {
		return fallback, &domain.PlanLookupError{Tenant: tenant, Err: err}
	}
	name = normalizePlan(name)
	if name == "" || name == domain.PlanNone {
		return fallback, nil
	}
	limit, ok := r.cfg.PlanLimits[name]
	if !ok {
		r.logger.Warn(ctx, "unmapped plan name, using default plan",
			slog.F("tenant", tenant),
			slog.F("plan", name),
		)
		return fallback, nil
	}
	return domain.Plan{Name: name, LimitPerMinute: limit}, nil
}
