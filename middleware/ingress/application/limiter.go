package application

import (
	"context"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/time/rate"

	"webhook-gateway/middleware/ingress/domain"
)

const (
	// Janelas por minuto guardam a chave por duas janelas, para leituras de stats
	// logo após a virada.
	minuteWindow    = time.Minute
	minuteKeyTTL    = 2 * time.Minute
	internalBackoff = time.Second
)

// Limiter concentra a regra de admissão multi-tenant.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Todo estado compartilhado fica no Store; não há locks em processo.
type Limiter struct {
	store  domain.Store
	plans  *PlanResolver
	stats  domain.StatsStore
	cfg    Config
	clock  quartz.Clock
	logger slog.Logger

	// failOpenLog limita logs repetidos enquanto o store estiver fora.
	failOpenLog *rate.Sometimes
}

type LimiterOption func(*Limiter)

func WithClock(c quartz.Clock) LimiterOption {
	return func(l *Limiter) { l.clock = c }
}

func WithLogger(log slog.Logger) LimiterOption {
	return func(l *Limiter) { l.logger = log }
}

// WithStats registra cada decisão de forma best-effort.
func WithStats(s domain.StatsStore) LimiterOption {
	return func(l *Limiter) { l.stats = s }
}

func NewLimiter(store domain.Store, plans *PlanResolver, cfg Config, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:       store,
		plans:       plans,
		cfg:         cfg.withDefaults(),
		clock:       quartz.NewReal(),
		failOpenLog: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.plans == nil {
		l.plans = NewPlanResolver(nil, l.cfg, WithPlanClock(l.clock), WithPlanLogger(l.logger))
	}
	return l
}

// Config devolve a configuração efetiva (com padrões aplicados).
func (l *Limiter) Config() Config { return l.cfg }

// AdmissionCheck decide se um evento do tenant pode seguir.
//
// Ordem (a primeira negação encerra): bloqueio, limite global, limite por minuto
// do plano, burst. Falha de disponibilidade do store libera (fail-open) e o erro
// segue em Decision.Err.
func (l *Limiter) AdmissionCheck(ctx context.Context, tenant domain.TenantID) domain.Decision {
	dec := l.admit(ctx, tenant)
	l.record(ctx, tenant, dec)
	return dec
}

func (l *Limiter) admit(ctx context.Context, tenant domain.TenantID) domain.Decision {
	if l.store == nil {
		return domain.Allow()
	}
	now := l.clock.Now()

	// 1) bloqueio: nenhum contador é tocado
	remaining, blocked, err := l.blockRemaining(ctx, tenant)
	if err != nil {
		return l.onStoreError(ctx, tenant, "block check", err)
	}
	if blocked {
		return domain.Deny(domain.ReasonBlocked, remaining)
	}

	minuteIdx, minuteLeft := windowIndex(now, minuteWindow)

	// 2) limite global: protege o sistema, não conta como violação
	count, err := l.store.IncrementWindow(ctx, globalMinuteKey(minuteIdx), minuteKeyTTL)
	if err != nil {
		return l.onStoreError(ctx, tenant, "global counter", err)
	}
	if count > l.cfg.GlobalLimitPerMinute {
		l.logger.Warn(ctx, "global rate limit reached",
			slog.F("count", count),
			slog.F("limit", l.cfg.GlobalLimitPerMinute),
		)
		return domain.Deny(domain.ReasonGlobal, minuteLeft)
	}

	// 3) limite por minuto do plano
	limit := l.plans.ResolveLimit(ctx, tenant)
	count, err = l.store.IncrementWindow(ctx, tenantMinuteKey(tenant, minuteIdx), minuteKeyTTL)
	if err != nil {
		return l.onStoreError(ctx, tenant, "tenant counter", err)
	}
	if count > limit {
		l.logger.Info(ctx, "tenant exceeded plan limit",
			slog.F("tenant", tenant),
			slog.F("count", count),
			slog.F("limit", limit),
		)
		return l.deny(ctx, tenant, domain.ReasonPerMinute, minuteLeft)
	}

	// 4) burst
	burstIdx, burstLeft := windowIndex(now, l.cfg.BurstWindow)
	count, err = l.store.IncrementWindow(ctx, tenantBurstKey(tenant, burstIdx), 2*l.cfg.BurstWindow)
	if err != nil {
		return l.onStoreError(ctx, tenant, "burst counter", err)
	}
	if count > l.cfg.BurstLimit {
		l.logger.Info(ctx, "tenant burst detected",
			slog.F("tenant", tenant),
			slog.F("count", count),
			slog.F("limit", l.cfg.BurstLimit),
		)
		return l.deny(ctx, tenant, domain.ReasonBurst, burstLeft)
	}

	return domain.Allow()
}

// deny registra a violação e devolve a negação. Se a violação gerou um bloqueio,
// a espera sugerida passa a ser a duração do bloqueio.
func (l *Limiter) deny(ctx context.Context, tenant domain.TenantID, reason domain.Reason, retryAfter time.Duration) domain.Decision {
	dec := domain.Deny(reason, retryAfter)
	blocked, err := l.recordViolation(ctx, tenant)
	if err != nil {
		// a negação vale mesmo sem conseguir registrar a violação
		l.logStoreError(ctx, tenant, "record violation", err)
		dec.Err = err
		return dec
	}
	if blocked && l.cfg.BlockDuration > dec.RetryAfter {
		dec.RetryAfter = l.cfg.BlockDuration
	}
	return dec
}

// recordViolation incrementa o contador de violações (TTL = janela de violação) e
// cria o bloqueio quando o threshold é atingido.
func (l *Limiter) recordViolation(ctx context.Context, tenant domain.TenantID) (bool, error) {
	n, err := l.store.IncrementWindow(ctx, violationsKey(tenant), l.cfg.ViolationWindow)
	if err != nil {
		return false, err
	}
	if n < l.cfg.ViolationThreshold {
		return false, nil
	}
	if err := l.store.SetWithTTL(ctx, blockedKey(tenant), "blocked", l.cfg.BlockDuration); err != nil {
		return false, err
	}
	l.logger.Warn(ctx, "tenant blocked",
		slog.F("tenant", tenant),
		slog.F("violations", n),
		slog.F("duration", l.cfg.BlockDuration),
	)
	return true, nil
}

// blockRemaining lê o BlockRecord. Um bloqueio existente sem TTL legível ainda
// conta como bloqueado, com a duração configurada.
func (l *Limiter) blockRemaining(ctx context.Context, tenant domain.TenantID) (time.Duration, bool, error) {
	key := blockedKey(tenant)
	ok, err := l.store.Exists(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if ttl <= 0 {
		ttl = l.cfg.BlockDuration
	}
	return ttl, true, nil
}

func (l *Limiter) onStoreError(ctx context.Context, tenant domain.TenantID, step string, err error) domain.Decision {
	l.logStoreError(ctx, tenant, step, err)
	if domain.IsStoreUnavailable(err) {
		return domain.Decision{Allowed: true, Err: err}
	}
	dec := domain.Deny(domain.ReasonInternal, internalBackoff)
	dec.Err = err
	return dec
}

func (l *Limiter) logStoreError(ctx context.Context, tenant domain.TenantID, step string, err error) {
	if !domain.IsStoreUnavailable(err) {
		l.logger.Error(ctx, "store returned unexpected error",
			slog.F("tenant", tenant),
			slog.F("step", step),
			slog.Error(err),
		)
		return
	}
	l.failOpenLog.Do(func() {
		l.logger.Error(ctx, "shared store unavailable, failing open",
			slog.F("tenant", tenant),
			slog.F("step", step),
			slog.Error(err),
		)
	})
}

func (l *Limiter) record(ctx context.Context, tenant domain.TenantID, dec domain.Decision) {
	if l.stats == nil {
		return
	}
	err := l.stats.Record(ctx, domain.StatsEvent{
		Tenant:   tenant,
		Allowed:  dec.Allowed,
		Reason:   dec.Reason,
		FailOpen: dec.Allowed && dec.Err != nil,
		At:       l.clock.Now(),
	})
	if err != nil {
		l.logger.Debug(ctx, "record admission stats", slog.Error(err))
	}
}
