package domain

import "context"

// PlanNone é o nome devolvido quando o tenant não tem assinatura ativa.
const PlanNone = "none"

// PlanLookup consulta o banco de negócio pelo plano ativo de um tenant.
//
// Deve retornar PlanNone (e erro nil) quando não houver assinatura ativa.
type PlanLookup interface {
	ActivePlan(ctx context.Context, tenant TenantID) (string, error)
}

// Plan é o resultado resolvido: nome normalizado e limite por minuto.
type Plan struct {
	Name           string
	LimitPerMinute int64
	// Fallback indica que o limite veio do plano padrão (sem plano, plano
	// desconhecido ou erro de consulta).
	Fallback bool
}
