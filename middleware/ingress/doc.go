// Package ingress fornece adapters HTTP (net/http) para a entrada de eventos multi-tenant.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (admissão, planos, buffer com debounce) sem net/http
//   - infra: implementações concretas (Redis, memória, SQL, timers, Prometheus)
//   - ingress (este pacote): middlewares HTTP, webhook, rotas administrativas
//
// Fluxo no gateway:
//
//  1. Extrai o tenant (path/header/query)
//  2. Chama Limiter.AdmissionCheck; se negado, responde 429 com Retry-After
//  3. Extrai o texto e chama Buffer.EnqueueFragment; responde 202 na hora
//  4. O líder do debounce agendou o flush, que entrega o texto agregado à fila de workers
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_LIMIT_GLOBAL, RATE_LIMIT_BURST, BUFFER_DEBOUNCE e CONCURRENCY_MAX.
package ingress
