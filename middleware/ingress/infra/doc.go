// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisStore / MemoryStore: domain.Store (contadores com janela, locks, listas)
//   - RedisStatsStore / MemoryStatsStore / Metrics: domain.StatsStore
//   - SQLPlanLookup: plano ativo do tenant no banco de negócio (Postgres ou SQLite)
//   - TimerScheduler / RedisScheduler: domain.Scheduler para o flush adiado
//   - RedisQueue: handoff do texto agregado para a fila de workers
//   - NewSlotPool: semáforo para entregas em voo e handoffs de flush
package infra
