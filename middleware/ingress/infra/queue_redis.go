package infra

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/xerrors"

	"webhook-gateway/middleware/ingress/domain"
)

// Task é a unidade de trabalho entregue aos workers: o texto agregado de uma conversa.
type Task struct {
	ID           string                `json:"id"`
	Tenant       domain.TenantID       `json:"tenant"`
	Conversation domain.ConversationID `json:"conversation"`
	Text         string                `json:"text"`
	EnqueuedAt   time.Time             `json:"enqueued_at"`
}

// RedisQueue é a fila de workers sobre uma lista do Redis (LPUSH / BRPOP).
//
// Publish tem a assinatura de domain.FlushFunc e é o handoff padrão do Buffer.
type RedisQueue struct {
	rdb     redis.UniversalClient
	key     string
	clock   quartz.Clock
	retries uint64
	newID   func() string
}

type RedisQueueOption func(*RedisQueue)

func WithQueueClock(c quartz.Clock) RedisQueueOption {
	return func(q *RedisQueue) { q.clock = c }
}

// WithPublishRetries define quantas novas tentativas o LPUSH recebe; o padrão é 3.
func WithPublishRetries(n uint64) RedisQueueOption {
	return func(q *RedisQueue) { q.retries = n }
}

func NewRedisQueue(rdb redis.UniversalClient, key string, opts ...RedisQueueOption) *RedisQueue {
	if key == "" {
		key = "queue:main"
	}
	q := &RedisQueue{
		rdb:     rdb,
		key:     key,
		clock:   quartz.NewReal(),
		retries: 3,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) Publish(ctx context.Context, tenant domain.TenantID, conv domain.ConversationID, text string) error {
	payload, err := json.Marshal(Task{
		ID:           q.newID(),
		Tenant:       tenant,
		Conversation: conv,
		Text:         text,
		EnqueuedAt:   q.clock.Now().UTC(),
	})
	if err != nil {
		return xerrors.Errorf("encode task: %w", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), q.retries), ctx)
	err = backoff.Retry(func() error {
		err := classify("lpush", q.key, q.rdb.LPush(ctx, q.key, payload).Err())
		if err != nil && !domain.IsStoreUnavailable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		return xerrors.Errorf("publish task: %w", err)
	}
	return nil
}

// Pop espera até timeout pela próxima task. ok=false quando o tempo acabou.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (Task, bool, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if xerrors.Is(err, redis.Nil) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, classify("brpop", q.key, err)
	}
	// res = [key, value]
	if len(res) != 2 {
		return Task{}, false, xerrors.Errorf("unexpected BRPOP reply with %d elements", len(res))
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return Task{}, false, xerrors.Errorf("decode task: %w", err)
	}
	return t, true, nil
}

// Len devolve o tamanho da fila.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	return n, classify("llen", q.key, err)
}
