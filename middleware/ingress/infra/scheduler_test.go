package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"webhook-gateway/middleware/ingress/domain"
)

type jobRecorder struct {
	mu   sync.Mutex
	jobs []domain.FlushJob
	ch   chan domain.FlushJob
}

func newJobRecorder() *jobRecorder {
	return &jobRecorder{ch: make(chan domain.FlushJob, 16)}
}

func (r *jobRecorder) Flush(_ context.Context, job domain.FlushJob) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	r.ch <- job
	return nil
}

func (r *jobRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func waitJob(t *testing.T, ch <-chan domain.FlushJob) domain.FlushJob {
	t.Helper()
	select {
	case job := <-ch:
		return job
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for flush job")
		return domain.FlushJob{}
	}
}

func TestTimerScheduler_FiresAfterDelay(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	s := NewTimerScheduler(WithSchedulerClock(mClock))
	defer func() { _ = s.Close() }()

	rec := newJobRecorder()
	s.Handle(rec)

	job := domain.FlushJob{Tenant: "a", Conversation: "1"}
	require.NoError(t, s.Schedule(ctx, job, 10*time.Second))
	require.Equal(t, 1, s.Pending())

	mClock.Advance(9 * time.Second).MustWait(ctx)
	require.Zero(t, rec.count())

	mClock.Advance(time.Second).MustWait(ctx)
	require.Equal(t, job, waitJob(t, rec.ch))
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestTimerScheduler_RequiresHandler(t *testing.T) {
	s := NewTimerScheduler(WithSchedulerClock(quartz.NewMock(t)))
	err := s.Schedule(context.Background(), domain.FlushJob{Tenant: "a"}, time.Second)
	require.ErrorIs(t, err, ErrNoFlushHandler)
}

func TestTimerScheduler_CloseDropsPending(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	s := NewTimerScheduler(WithSchedulerClock(mClock), WithSchedulerLogger(slogtest.Make(t, nil)))
	rec := newJobRecorder()
	s.Handle(rec)

	require.NoError(t, s.Schedule(ctx, domain.FlushJob{Tenant: "a", Conversation: "1"}, 10*time.Second))
	require.NoError(t, s.Close())
	require.Zero(t, s.Pending())

	err := s.Schedule(ctx, domain.FlushJob{Tenant: "a", Conversation: "2"}, time.Second)
	require.ErrorIs(t, err, ErrSchedulerClosed)
	require.NoError(t, s.Close())
	require.Zero(t, rec.count())
}

func newTestRedisScheduler(t *testing.T, mClock quartz.Clock) (*RedisScheduler, *redis.Client) {
	t.Helper()
	_, rdb := newMiniredis(t)
	s := NewRedisScheduler(rdb,
		WithRedisSchedulerClock(mClock),
		WithRedisSchedulerLogger(slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})),
		WithPollEvery(time.Second),
	)
	return s, rdb
}

func TestRedisScheduler_PollRunsDueJobs(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	s, _ := newTestRedisScheduler(t, mClock)
	rec := newJobRecorder()
	s.Handle(rec)

	job := domain.FlushJob{Tenant: "a", Conversation: "1"}
	require.NoError(t, s.Schedule(ctx, job, 10*time.Second))
	// mesmo job de novo: ZADD NX mantém o vencimento original
	mClock.Advance(5 * time.Second).MustWait(ctx)
	require.NoError(t, s.Schedule(ctx, job, 10*time.Second))

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, pending)

	ran, err := s.Poll(ctx)
	require.NoError(t, err)
	require.Zero(t, ran)

	mClock.Advance(5 * time.Second).MustWait(ctx)
	ran, err = s.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ran)
	require.Equal(t, job, waitJob(t, rec.ch))

	// já reivindicado
	ran, err = s.Poll(ctx)
	require.NoError(t, err)
	require.Zero(t, ran)
}

func TestRedisScheduler_SkipsMalformedMembers(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	s, rdb := newTestRedisScheduler(t, mClock)
	rec := newJobRecorder()
	s.Handle(rec)

	require.NoError(t, rdb.ZAdd(ctx, "buffer:jobs", redis.Z{Score: 0, Member: "not-json"}).Err())
	require.NoError(t, s.Schedule(ctx, domain.FlushJob{Tenant: "a", Conversation: "1"}, 0))

	ran, err := s.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ran)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestRedisScheduler_RunPollsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mClock := quartz.NewMock(t)
	s, _ := newTestRedisScheduler(t, mClock)
	rec := newJobRecorder()
	s.Handle(rec)

	job := domain.FlushJob{Tenant: "a", Conversation: "1"}
	require.NoError(t, s.Schedule(ctx, job, time.Second))

	trap := mClock.Trap().TickerFunc("redisscheduler", "poll")
	defer trap.Close()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	call := trap.MustWait(ctx)
	call.MustRelease(ctx)

	mClock.Advance(time.Second).MustWait(ctx)
	require.Equal(t, job, waitJob(t, rec.ch))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRedisScheduler_RunRequiresHandler(t *testing.T) {
	s, _ := newTestRedisScheduler(t, quartz.NewMock(t))
	require.ErrorIs(t, s.Run(context.Background()), ErrNoFlushHandler)
}
