// Package domain define contratos e tipos de domínio para a entrada de eventos
// multi-tenant: admissão (rate limit, burst, bloqueio) e buffer de mensagens com debounce.
//
// Este pacote não depende de net/http nem de implementações concretas (Redis, SQL).
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
