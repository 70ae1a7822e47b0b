package infra

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"golang.org/x/xerrors"

	"webhook-gateway/middleware/ingress/domain"
)

// RedisScheduler guarda os jobs num sorted set (score = vencimento em ms) e
// sobrevive a restarts. Várias réplicas podem fazer polling: o ZREM decide quem
// executa cada job.
//
// Um job reivindicado por um processo que morre antes do flush se perde; os
// fragmentos continuam no buffer até o próximo ciclo ou o TTL de segurança.
type RedisScheduler struct {
	rdb        redis.UniversalClient
	key        string
	clock      quartz.Clock
	logger     slog.Logger
	pollEvery  time.Duration
	batch      int64
	jobTimeout time.Duration

	mu      sync.Mutex
	handler domain.FlushHandler
}

type RedisSchedulerOption func(*RedisScheduler)

func WithJobsKey(key string) RedisSchedulerOption {
	return func(s *RedisScheduler) { s.key = key }
}

func WithPollEvery(d time.Duration) RedisSchedulerOption {
	return func(s *RedisScheduler) { s.pollEvery = d }
}

func WithRedisSchedulerClock(c quartz.Clock) RedisSchedulerOption {
	return func(s *RedisScheduler) { s.clock = c }
}

func WithRedisSchedulerLogger(l slog.Logger) RedisSchedulerOption {
	return func(s *RedisScheduler) { s.logger = l }
}

func NewRedisScheduler(rdb redis.UniversalClient, opts ...RedisSchedulerOption) *RedisScheduler {
	s := &RedisScheduler{
		rdb:        rdb,
		key:        "buffer:jobs",
		clock:      quartz.NewReal(),
		pollEvery:  500 * time.Millisecond,
		batch:      100,
		jobTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisScheduler) Handle(h domain.FlushHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Schedule grava o job com ZADD NX: se a conversa já tem um job pendente, o
// vencimento mais antigo é mantido.
func (s *RedisScheduler) Schedule(ctx context.Context, job domain.FlushJob, delay time.Duration) error {
	member, err := json.Marshal(job)
	if err != nil {
		return xerrors.Errorf("encode flush job: %w", err)
	}
	due := s.clock.Now().Add(delay).UnixMilli()
	err = s.rdb.ZAddNX(ctx, s.key, redis.Z{Score: float64(due), Member: string(member)}).Err()
	return classify("zadd", s.key, err)
}

// Run faz polling até ctx encerrar.
func (s *RedisScheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return ErrNoFlushHandler
	}

	w := s.clock.TickerFunc(ctx, s.pollEvery, func() error {
		if _, err := s.Poll(ctx); err != nil {
			s.logger.Warn(ctx, "poll flush jobs", slog.Error(err))
		}
		return nil
	}, "redisscheduler", "poll")
	err := w.Wait()
	if xerrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Poll reivindica e executa os jobs vencidos. Devolve quantos executou.
func (s *RedisScheduler) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return 0, ErrNoFlushHandler
	}

	now := s.clock.Now().UnixMilli()
	members, err := s.rdb.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: s.batch,
	}).Result()
	if err != nil {
		return 0, classify("zrangebyscore", s.key, err)
	}

	ran := 0
	for _, member := range members {
		claimed, err := s.rdb.ZRem(ctx, s.key, member).Result()
		if err != nil {
			return ran, classify("zrem", s.key, err)
		}
		if claimed == 0 {
			// outra réplica levou
			continue
		}
		var job domain.FlushJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			s.logger.Error(ctx, "discard malformed flush job", slog.F("member", member), slog.Error(err))
			continue
		}
		s.run(ctx, h, job)
		ran++
	}
	return ran, nil
}

func (s *RedisScheduler) run(ctx context.Context, h domain.FlushHandler, job domain.FlushJob) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	if err := h.Flush(ctx, job); err != nil {
		s.logger.Warn(ctx, "flush job failed",
			slog.F("tenant", job.Tenant),
			slog.F("conversation", job.Conversation),
			slog.Error(err),
		)
	}
}

// Pending devolve quantos jobs estão no sorted set.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, s.key).Result()
	return n, classify("zcard", s.key, err)
}
