package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSlotPool_ZeroMeansUnlimited(t *testing.T) {
	t.Parallel()
	require.Nil(t, NewSlotPool(0))
	require.Nil(t, NewSlotPool(-3))
}

func TestSlotPool_BlocksAtCapacity(t *testing.T) {
	t.Parallel()

	p := NewSlotPool(1)
	release, ok := p.Acquire(context.Background())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok = p.Acquire(ctx)
	require.False(t, ok, "second acquire should time out")

	release()
	release2, ok := p.Acquire(context.Background())
	require.True(t, ok)
	release2()
}

func TestSlotPool_DoubleReleaseFreesOneSlot(t *testing.T) {
	t.Parallel()

	p := NewSlotPool(2)
	r1, ok := p.Acquire(context.Background())
	require.True(t, ok)
	r2, ok := p.Acquire(context.Background())
	require.True(t, ok)

	r1()
	r1()

	r3, ok := p.Acquire(context.Background())
	require.True(t, ok)

	// r2 e r3 seguem ocupando as duas vagas
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok = p.Acquire(ctx)
	require.False(t, ok)

	r2()
	r3()
}

func TestSlotPool_CanceledContextDoesNotAcquire(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := NewSlotPool(1).Acquire(ctx)
	require.False(t, ok)
}
