package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão de admissão.
//
// Observação: cuidado com cardinalidade (ex.: salvar Tenant sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Tenant  TenantID
	Allowed bool
	Reason  Reason

	// FailOpen marca decisões liberadas por indisponibilidade do store.
	FailOpen bool

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// Quem chama trata erro como best-effort (não derruba a admissão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// TenantStats é a visão administrativa de um tenant na janela atual.
type TenantStats struct {
	Tenant            TenantID `json:"tenant_id"`
	Plan              string   `json:"plan"`
	RequestsThisMin   int64    `json:"requests_this_minute"`
	RequestsThisBurst int64    `json:"requests_this_burst"`
	Blocked           bool     `json:"blocked"`
	BlockRemaining    int      `json:"block_remaining_seconds,omitempty"`
	Violations        int64    `json:"violations"`
	LimitPerMinute    int64    `json:"limit_per_minute"`
	BurstLimit        int64    `json:"burst_limit"`
	UsagePercentage   float64  `json:"usage_percentage"`
}

type GlobalStats struct {
	RequestsThisMin int64   `json:"global_requests_this_minute"`
	Limit           int64   `json:"global_limit"`
	UsagePercentage float64 `json:"usage_percentage"`
}

type BlockedTenant struct {
	Tenant           TenantID `json:"tenant_id"`
	RemainingSeconds int      `json:"time_remaining_seconds"`
}

type TenantUsage struct {
	Tenant          TenantID `json:"tenant_id"`
	RequestsThisMin int64    `json:"requests_this_minute"`
	LimitPerMinute  int64    `json:"limit"`
}

// AdminResult é o retorno das operações administrativas de escrita.
type AdminResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
