package infra

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"webhook-gateway/middleware/ingress/domain"
)

func TestRedisQueue_PublishThenPopIsFIFO(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniredis(t)
	mClock := quartz.NewMock(t)
	q := NewRedisQueue(rdb, "queue:test", WithQueueClock(mClock))

	require.NoError(t, q.Publish(ctx, "clinic-1", "5511999", "Hi. how are you"))
	require.NoError(t, q.Publish(ctx, "clinic-1", "5511888", "bom dia"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	task, ok, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, task.ID)
	require.Equal(t, domain.TenantID("clinic-1"), task.Tenant)
	require.Equal(t, domain.ConversationID("5511999"), task.Conversation)
	require.Equal(t, "Hi. how are you", task.Text)
	require.True(t, task.EnqueuedAt.Equal(mClock.Now()))

	task, ok, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bom dia", task.Text)
}

func TestRedisQueue_PopTimesOutOnEmptyQueue(t *testing.T) {
	_, rdb := newMiniredis(t)
	q := NewRedisQueue(rdb, "")

	_, ok, err := q.Pop(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisQueue_PublishLogicalErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)
	require.NoError(t, mr.Set("queue:main", "not-a-list"))
	q := NewRedisQueue(rdb, "queue:main", WithPublishRetries(5))

	start := time.Now()
	err := q.Publish(ctx, "a", "1", "hello")
	require.Error(t, err)
	require.False(t, domain.IsStoreUnavailable(err))
	require.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestRedisQueue_PublishUnavailable(t *testing.T) {
	mr, rdb := newMiniredis(t)
	mr.Close()
	q := NewRedisQueue(rdb, "queue:main", WithPublishRetries(0))

	err := q.Publish(context.Background(), "a", "1", "hello")
	require.Error(t, err)
	require.True(t, domain.IsStoreUnavailable(err))
}
