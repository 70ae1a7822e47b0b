package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"webhook-gateway/middleware/ingress/domain"
	"webhook-gateway/middleware/ingress/infra"
)

// início de minuto: alinha as janelas de minuto e de burst (10s)
var testEpoch = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestClock(t *testing.T) *quartz.Mock {
	t.Helper()
	mClock := quartz.NewMock(t)
	mClock.Set(testEpoch).MustWait(context.Background())
	return mClock
}

func newTestLimiter(t *testing.T, store domain.Store, mClock quartz.Clock, cfg Config, opts ...LimiterOption) *Limiter {
	t.Helper()
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	base := []LimiterOption{WithClock(mClock), WithLogger(logger)}
	return NewLimiter(store, nil, cfg, append(base, opts...)...)
}

func TestLimiter_BurstDeniesEleventhInSameWindow(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := infra.NewMemoryStore(infra.WithMemoryClock(mClock))
	lim := newTestLimiter(t, store, mClock, DefaultConfig())

	for i := 1; i <= 10; i++ {
		dec := lim.AdmissionCheck(ctx, "clinic-1")
		require.True(t, dec.Allowed, "check %d", i)
		require.Equal(t, domain.ReasonNone, dec.Reason)
	}

	dec := lim.AdmissionCheck(ctx, "clinic-1")
	require.False(t, dec.Allowed)
	require.Equal(t, domain.ReasonBurst, dec.Reason)
	require.Equal(t, 10*time.Second, dec.RetryAfter)
	require.NoError(t, dec.Err)

	violations, err := store.GetInt(ctx, violationsKey("clinic-1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, violations)

	blocked, err := store.Exists(ctx, blockedKey("clinic-1"))
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestLimiter_PerMinuteDeniesSixtyFirst(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := infra.NewMemoryStore(infra.WithMemoryClock(mClock))
	lim := newTestLimiter(t, store, mClock, DefaultConfig())

	// uma por segundo: 10 por janela de burst, nunca estoura o burst
	for i := 0; i < 60; i++ {
		if i > 0 {
			mClock.Advance(time.Second).MustWait(ctx)
		}
		dec := lim.AdmissionCheck(ctx, "clinic-1")
		require.True(t, dec.Allowed, "check at t=%ds", i)
	}

	mClock.Advance(500 * time.Millisecond).MustWait(ctx)
	dec := lim.AdmissionCheck(ctx, "clinic-1")
	require.False(t, dec.Allowed)
	require.Equal(t, domain.ReasonPerMinute, dec.Reason)
	require.Equal(t, 500*time.Millisecond, dec.RetryAfter)
	require.Equal(t, 1, dec.RetryAfterSeconds())
}

func TestLimiter_BlocksAfterViolationThreshold(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := infra.NewMemoryStore(infra.WithMemoryClock(mClock))
	lim := newTestLimiter(t, store, mClock, DefaultConfig())

	for i := 1; i <= 10; i++ {
		require.True(t, lim.AdmissionCheck(ctx, "clinic-1").Allowed)
	}
	// 11..14: burst, sem bloqueio ainda
	for i := 11; i <= 14; i++ {
		dec := lim.AdmissionCheck(ctx, "clinic-1")
		require.False(t, dec.Allowed)
		require.Equal(t, domain.ReasonBurst, dec.Reason)
		require.Equal(t, 10*time.Second, dec.RetryAfter, "check %d", i)
	}
	// 15: quinta violação cria o bloqueio
	dec := lim.AdmissionCheck(ctx, "clinic-1")
	require.False(t, dec.Allowed)
	require.Equal(t, domain.ReasonBurst, dec.Reason)
	require.Equal(t, time.Minute, dec.RetryAfter)

	minuteIdx, _ := windowIndex(mClock.Now(), time.Minute)
	before, err := store.GetInt(ctx, tenantMinuteKey("clinic-1", minuteIdx))
	require.NoError(t, err)
	require.EqualValues(t, 15, before)

	dec = lim.AdmissionCheck(ctx, "clinic-1")
	require.False(t, dec.Allowed)
	require.Equal(t, domain.ReasonBlocked, dec.Reason)
	require.Equal(t, 60, dec.RetryAfterSeconds())

	// bloqueado não toca contadores
	after, err := store.GetInt(ctx, tenantMinuteKey("clinic-1", minuteIdx))
	require.NoError(t, err)
	require.Equal(t, before, after)

	// outro tenant segue livre
	require.True(t, lim.AdmissionCheck(ctx, "clinic-2").Allowed)
}

func TestLimiter_BlockExpires(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := infra.NewMemoryStore(infra.WithMemoryClock(mClock))
	cfg := DefaultConfig()
	cfg.ViolationThreshold = 1
	cfg.BlockDuration = 30 * time.Second
	lim := newTestLimiter(t, store, mClock, cfg)

	for i := 0; i < 10; i++ {
		require.True(t, lim.AdmissionCheck(ctx, "clinic-1").Allowed)
	}
	dec := lim.AdmissionCheck(ctx, "clinic-1")
	require.Equal(t, domain.ReasonBurst, dec.Reason)
	require.Equal(t, 30*time.Second, dec.RetryAfter)

	mClock.Advance(20 * time.Second).MustWait(ctx)
	dec = lim.AdmissionCheck(ctx, "clinic-1")
	require.Equal(t, domain.ReasonBlocked, dec.Reason)
	require.Equal(t, 10*time.Second, dec.RetryAfter)

	mClock.Advance(10 * time.Second).MustWait(ctx)
	require.True(t, lim.AdmissionCheck(ctx, "clinic-1").Allowed)
}

func TestLimiter_UnblockRestoresAdmission(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := infra.NewMemoryStore(infra.WithMemoryClock(mClock))
	lim := newTestLimiter(t, store, mClock, DefaultConfig())

	for i := 0; i < 15; i++ {
		lim.AdmissionCheck(ctx, "clinic-1")
	}
	require.Equal(t, domain.ReasonBlocked, lim.AdmissionCheck(ctx, "clinic-1").Reason)

	res := lim.Unblock(ctx, "clinic-1")
	require.True(t, res.Success, res.Message)

	violations, err := store.GetInt(ctx, violationsKey("clinic-1"))
	require.NoError(t, err)
	require.Zero(t, violations)

	// nova janela de burst
	mClock.Advance(10 * time.Second).MustWait(ctx)
	require.True(t, lim.AdmissionCheck(ctx, "clinic-1").Allowed)

	res = lim.Unblock(ctx, "clinic-1")
	require.False(t, res.Success)
	require.Contains(t, res.Message, "was not blocked")
}

func TestLimiter_GlobalLimitDoesNotCountViolation(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := infra.NewMemoryStore(infra.WithMemoryClock(mClock))
	cfg := DefaultConfig()
	cfg.GlobalLimitPerMinute = 3
	lim := newTestLimiter(t, store, mClock, cfg)

	for _, tenant := range []domain.TenantID{"a", "b", "c"} {
		require.True(t, lim.AdmissionCheck(ctx, tenant).Allowed)
	}
	dec := lim.AdmissionCheck(ctx, "d")
	require.False(t, dec.Allowed)
	require.Equal(t, domain.ReasonGlobal, dec.Reason)
	require.Equal(t, time.Minute, dec.RetryAfter)

	ok, err := store.Exists(ctx, violationsKey("d"))
	require.NoError(t, err)
	require.False(t, ok)

	// próximo minuto
	mClock.Advance(time.Minute).MustWait(ctx)
	require.True(t, lim.AdmissionCheck(ctx, "d").Allowed)
}

func TestLimiter_UsesResolvedPlanLimit(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := infra.NewMemoryStore(infra.WithMemoryClock(mClock))
	cfg := DefaultConfig()
	cfg.PlanLimits = map[string]int64{"tiny": 2, "basic": 60}
	cfg.BurstLimit = 100
	plans := NewPlanResolver(fakePlans{"clinic-1": "tiny"}, cfg, WithPlanClock(mClock))
	lim := NewLimiter(store, plans, cfg, WithClock(mClock), WithLogger(slogtest.Make(t, nil)))

	require.True(t, lim.AdmissionCheck(ctx, "clinic-1").Allowed)
	require.True(t, lim.AdmissionCheck(ctx, "clinic-1").Allowed)
	dec := lim.AdmissionCheck(ctx, "clinic-1")
	require.Equal(t, domain.ReasonPerMinute, dec.Reason)

	// tenant sem assinatura cai no plano padrão
	for i := 0; i < 3; i++ {
		require.True(t, lim.AdmissionCheck(ctx, "clinic-2").Allowed)
	}
}

// faultyStore injeta err no Exists e nos IncrementWindow cujas chaves começam com failIncr.
type faultyStore struct {
	domain.Store
	failExists bool
	failIncr   string
	err        error
}

func (s faultyStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.failExists {
		return false, s.err
	}
	return s.Store.Exists(ctx, key)
}

func (s faultyStore) IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.failIncr != "" && len(key) >= len(s.failIncr) && key[:len(s.failIncr)] == s.failIncr {
		return 0, s.err
	}
	return s.Store.IncrementWindow(ctx, key, ttl)
}

func TestLimiter_FailsOpenWhenStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	unavailable := &domain.StoreError{Op: "exists", Unavailable: true, Err: errors.New("dial tcp: connection refused")}
	store := faultyStore{
		Store:      infra.NewMemoryStore(infra.WithMemoryClock(mClock)),
		failExists: true,
		err:        unavailable,
	}
	stats := infra.NewMemoryStatsStore()
	lim := newTestLimiter(t, store, mClock, DefaultConfig(), WithStats(stats))

	// mesmo muito acima de qualquer limite, tudo passa
	for i := 0; i < 100; i++ {
		dec := lim.AdmissionCheck(ctx, "clinic-1")
		require.True(t, dec.Allowed)
		require.Equal(t, domain.ReasonNone, dec.Reason)
		require.True(t, domain.IsStoreUnavailable(dec.Err))
	}
	require.EqualValues(t, 100, stats.Total().FailOpen)
}

func TestLimiter_FailsOpenMidCheck(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := faultyStore{
		Store:    infra.NewMemoryStore(infra.WithMemoryClock(mClock)),
		failIncr: keyPrefixTenant,
		err:      &domain.StoreError{Op: "incr", Unavailable: true, Err: context.DeadlineExceeded},
	}
	lim := newTestLimiter(t, store, mClock, DefaultConfig())

	dec := lim.AdmissionCheck(ctx, "clinic-1")
	require.True(t, dec.Allowed)
	require.Error(t, dec.Err)
}

func TestLimiter_LogicalStoreErrorDenies(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := faultyStore{
		Store:      infra.NewMemoryStore(infra.WithMemoryClock(mClock)),
		failExists: true,
		err:        &domain.StoreError{Op: "exists", Err: errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")},
	}
	lim := newTestLimiter(t, store, mClock, DefaultConfig())

	dec := lim.AdmissionCheck(ctx, "clinic-1")
	require.False(t, dec.Allowed)
	require.Equal(t, domain.ReasonInternal, dec.Reason)
	require.Equal(t, time.Second, dec.RetryAfter)
	require.False(t, domain.IsStoreUnavailable(dec.Err))
}

func TestLimiter_NilStoreAllows(t *testing.T) {
	lim := NewLimiter(nil, nil, Config{})
	dec := lim.AdmissionCheck(context.Background(), "clinic-1")
	if !dec.Allowed {
		t.Fatalf("expected allowed without store")
	}
}

func TestLimiter_RecordsDecisionStats(t *testing.T) {
	ctx := context.Background()
	mClock := newTestClock(t)
	store := infra.NewMemoryStore(infra.WithMemoryClock(mClock))
	stats := infra.NewMemoryStatsStore(infra.WithTrackTenants(true))
	lim := newTestLimiter(t, store, mClock, DefaultConfig(), WithStats(stats))

	for i := 0; i < 12; i++ {
		lim.AdmissionCheck(ctx, "clinic-1")
	}
	lim.AdmissionCheck(ctx, "clinic-2")

	total := stats.Total()
	require.EqualValues(t, 11, total.Allowed)
	require.EqualValues(t, 2, total.Denied)
	require.EqualValues(t, 2, stats.ByReason()[domain.ReasonBurst])
	require.EqualValues(t, 1, stats.ByTenant()["clinic-2"].Allowed)
}
