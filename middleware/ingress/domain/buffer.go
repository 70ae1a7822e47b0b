package domain

import (
	"context"
	"time"
)

// ConversationID identifica uma conversa dentro de um tenant (ex.: telefone do cliente).
type ConversationID string

// FlushJob é o job adiado que drena o buffer de uma conversa.
// É serializável para permitir schedulers duráveis.
type FlushJob struct {
	Tenant       TenantID       `json:"tenant"`
	Conversation ConversationID `json:"conversation"`
}

// FlushFunc recebe o texto agregado de uma conversa (handoff para a fila de workers).
// Só é chamada com texto não vazio.
type FlushFunc func(ctx context.Context, tenant TenantID, conversation ConversationID, text string) error

// FlushHandler executa um FlushJob quando o atraso vence.
type FlushHandler interface {
	Flush(ctx context.Context, job FlushJob) error
}

// Scheduler agenda um FlushJob para daqui a delay.
//
// A entrega é at-least-once: o job pode disparar mais de uma vez, ou se perder
// num restart. O handler precisa ser idempotente.
type Scheduler interface {
	Schedule(ctx context.Context, job FlushJob, delay time.Duration) error
}
