// Package application contém os casos de uso da entrada de eventos multi-tenant.
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis:
//
//   - Limiter.AdmissionCheck(tenant) retorna uma Decision (allow/deny + motivo + retry-after)
//   - Limiter.TenantStats/GlobalStats/BlockedTenants/Unblock/TopTenants formam a superfície administrativa
//   - PlanResolver traduz tenant -> limite por minuto, com cache preguiçoso
//   - Buffer.EnqueueFragment acumula fragmentos e elege o líder do debounce;
//     Buffer.Flush drena e entrega o texto agregado
package application
