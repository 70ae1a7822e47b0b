package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"math"
	"time"
)

// TenantID identifica uma conta isolada (ex.: uma clínica). É a unidade de escopo
// dos contadores, do bloqueio e do buffer.
type TenantID string

// Reason explica por que uma admissão foi negada.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonBlocked   Reason = "blocked"
	ReasonGlobal    Reason = "global limit"
	ReasonPerMinute Reason = "per-minute limit"
	ReasonBurst     Reason = "burst limit"
	// ReasonInternal indica um erro lógico do store (não indisponibilidade).
	ReasonInternal Reason = "internal error"
)

type Decision struct {
	Allowed bool
	Reason  Reason
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	// Err carrega a falha de infraestrutura que levou a um "fail-open".
	// Serve só para observabilidade: Allowed continua true nesse caso.
	Err error
}

// RetryAfterSeconds arredonda RetryAfter para cima, em segundos inteiros.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Allow é a decisão padrão de passagem.
func Allow() Decision { return Decision{Allowed: true} }

// Deny monta uma negação com motivo e tempo de espera.
func Deny(reason Reason, retryAfter time.Duration) Decision {
	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}
