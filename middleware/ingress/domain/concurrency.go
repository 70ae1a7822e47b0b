package domain

import "context"

// SlotPool limita quantas operações rodam ao mesmo tempo: entregas de webhook
// em voo e handoffs de flush para a fila.
//
// Acquire bloqueia até haver vaga ou até ctx encerrar. Com ok=true, release
// devolve a vaga; chamadas repetidas de release não têm efeito.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
