package application

import (
	"context"
	"math"
	"sort"
	"strings"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"webhook-gateway/middleware/ingress/domain"
)

// TenantStats devolve o uso do tenant na janela atual, o plano resolvido e o estado de bloqueio.
func (l *Limiter) TenantStats(ctx context.Context, tenant domain.TenantID) (domain.TenantStats, error) {
	now := l.clock.Now()
	minuteIdx, _ := windowIndex(now, minuteWindow)
	burstIdx, _ := windowIndex(now, l.cfg.BurstWindow)

	minute, err := l.store.GetInt(ctx, tenantMinuteKey(tenant, minuteIdx))
	if err != nil {
		return domain.TenantStats{}, xerrors.Errorf("read minute counter: %w", err)
	}
	burst, err := l.store.GetInt(ctx, tenantBurstKey(tenant, burstIdx))
	if err != nil {
		return domain.TenantStats{}, xerrors.Errorf("read burst counter: %w", err)
	}
	violations, err := l.store.GetInt(ctx, violationsKey(tenant))
	if err != nil {
		return domain.TenantStats{}, xerrors.Errorf("read violations: %w", err)
	}
	remaining, blocked, err := l.blockRemaining(ctx, tenant)
	if err != nil {
		return domain.TenantStats{}, xerrors.Errorf("read block: %w", err)
	}

	plan := l.plans.Resolve(ctx, tenant)
	st := domain.TenantStats{
		Tenant:            tenant,
		Plan:              plan.Name,
		RequestsThisMin:   minute,
		RequestsThisBurst: burst,
		Blocked:           blocked,
		Violations:        violations,
		LimitPerMinute:    plan.LimitPerMinute,
		BurstLimit:        l.cfg.BurstLimit,
		UsagePercentage:   percentage(minute, plan.LimitPerMinute),
	}
	if blocked {
		st.BlockRemaining = domain.Decision{RetryAfter: remaining}.RetryAfterSeconds()
	}
	return st, nil
}

func (l *Limiter) GlobalStats(ctx context.Context) (domain.GlobalStats, error) {
	idx, _ := windowIndex(l.clock.Now(), minuteWindow)
	count, err := l.store.GetInt(ctx, globalMinuteKey(idx))
	if err != nil {
		return domain.GlobalStats{}, xerrors.Errorf("read global counter: %w", err)
	}
	return domain.GlobalStats{
		RequestsThisMin: count,
		Limit:           l.cfg.GlobalLimitPerMinute,
		UsagePercentage: percentage(count, l.cfg.GlobalLimitPerMinute),
	}, nil
}

// BlockedTenants lista os tenants com BlockRecord ativo, ordenados por tenant.
func (l *Limiter) BlockedTenants(ctx context.Context) ([]domain.BlockedTenant, error) {
	keys, err := l.store.Keys(ctx, keyPrefixBlocked+"*")
	if err != nil {
		return nil, xerrors.Errorf("scan blocked tenants: %w", err)
	}
	out := make([]domain.BlockedTenant, 0, len(keys))
	for _, key := range keys {
		tenant := domain.TenantID(strings.TrimPrefix(key, keyPrefixBlocked))
		ttl, err := l.store.TTL(ctx, key)
		if err != nil {
			return nil, xerrors.Errorf("read block ttl: %w", err)
		}
		if ttl <= 0 {
			// expirou entre o scan e a leitura do TTL
			ok, err := l.store.Exists(ctx, key)
			if err != nil {
				return nil, xerrors.Errorf("read block: %w", err)
			}
			if !ok {
				continue
			}
		}
		out = append(out, domain.BlockedTenant{
			Tenant:           tenant,
			RemainingSeconds: domain.Decision{RetryAfter: ttl}.RetryAfterSeconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out, nil
}

// Unblock remove o bloqueio manualmente e zera as violações.
// Success=false quando o tenant não estava bloqueado ou o store falhou.
func (l *Limiter) Unblock(ctx context.Context, tenant domain.TenantID) domain.AdminResult {
	deleted, err := l.store.Delete(ctx, blockedKey(tenant))
	if err != nil {
		l.logger.Error(ctx, "unblock tenant", slog.F("tenant", tenant), slog.Error(err))
		return domain.AdminResult{Success: false, Message: "failed to unblock tenant " + string(tenant) + ": " + err.Error()}
	}
	if _, err := l.store.Delete(ctx, violationsKey(tenant)); err != nil {
		l.logger.Error(ctx, "reset tenant violations", slog.F("tenant", tenant), slog.Error(err))
		return domain.AdminResult{Success: false, Message: "tenant " + string(tenant) + " unblocked but violations were not reset: " + err.Error()}
	}
	if deleted == 0 {
		return domain.AdminResult{Success: false, Message: "tenant " + string(tenant) + " was not blocked"}
	}
	l.logger.Info(ctx, "tenant unblocked manually", slog.F("tenant", tenant))
	return domain.AdminResult{Success: true, Message: "tenant " + string(tenant) + " unblocked"}
}

// TopTenants devolve os tenants com mais admissões contadas no minuto atual.
func (l *Limiter) TopTenants(ctx context.Context, limit int) ([]domain.TenantUsage, error) {
	if limit <= 0 {
		limit = 10
	}
	idx, _ := windowIndex(l.clock.Now(), minuteWindow)
	keys, err := l.store.Keys(ctx, tenantMinuteKey("*", idx))
	if err != nil {
		return nil, xerrors.Errorf("scan tenant counters: %w", err)
	}

	usage := make([]domain.TenantUsage, 0, len(keys))
	for _, key := range keys {
		tenant, ok := tenantFromMinuteKey(key)
		if !ok {
			continue
		}
		count, err := l.store.GetInt(ctx, key)
		if err != nil {
			return nil, xerrors.Errorf("read tenant counter: %w", err)
		}
		if count == 0 {
			continue
		}
		usage = append(usage, domain.TenantUsage{
			Tenant:          tenant,
			RequestsThisMin: count,
			LimitPerMinute:  l.plans.ResolveLimit(ctx, tenant),
		})
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].RequestsThisMin != usage[j].RequestsThisMin {
			return usage[i].RequestsThisMin > usage[j].RequestsThisMin
		}
		return usage[i].Tenant < usage[j].Tenant
	})
	if len(usage) > limit {
		usage = usage[:limit]
	}
	return usage, nil
}

func percentage(count, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Round(float64(count)/float64(limit)*10000) / 100
}
