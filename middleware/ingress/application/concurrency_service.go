package application

import (
	"context"
	"time"

	"webhook-gateway/middleware/ingress/domain"
)

// ConcurrencyService aplica um prazo máximo de espera sobre um SlotPool.
// O middleware HTTP usa para entregas em voo; o Buffer, para handoffs de flush.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire devolve (release, true) quando consegue vaga. Pool nil não limita.
// AcquireTimeout <= 0 espera pelo ctx do chamador.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	waitCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	return s.Pool.Acquire(waitCtx)
}
