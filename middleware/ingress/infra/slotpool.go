package infra

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"webhook-gateway/middleware/ingress/domain"
)

type semPool struct {
	sem *semaphore.Weighted
}

// NewSlotPool cria o pool com `size` vagas. size <= 0 devolve nil, que
// ConcurrencyService trata como "sem limite".
func NewSlotPool(size int) domain.SlotPool {
	if size <= 0 {
		return nil
	}
	return &semPool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *semPool) Acquire(ctx context.Context) (func(), bool) {
	// contexto já encerrado não disputa vaga, mesmo que haja uma livre
	if ctx.Err() != nil {
		return nil, false
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { p.sem.Release(1) }) }, true
}
