package infra

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"webhook-gateway/middleware/ingress/domain"
)

// Esquema esperado no banco de negócio (só as colunas usadas aqui):
//
//	plans(id, name)
//	subscriptions(tenant_id, plan_id, status, created_at)
const activePlanQuery = `
SELECT p.name
FROM subscriptions s
JOIN plans p ON p.id = s.plan_id
WHERE s.tenant_id = ? AND s.status = 'active'
ORDER BY s.created_at DESC
LIMIT 1`

// SQLPlanLookup implementa domain.PlanLookup sobre database/sql.
//
// Funciona com lib/pq ("postgres") e modernc.org/sqlite ("sqlite"); o driver
// define só o estilo de placeholder.
type SQLPlanLookup struct {
	db      *sql.DB
	query   string
	timeout time.Duration
}

type SQLPlanOption func(*SQLPlanLookup)

// WithQueryTimeout limita cada consulta; o padrão é 2s.
func WithQueryTimeout(d time.Duration) SQLPlanOption {
	return func(l *SQLPlanLookup) { l.timeout = d }
}

func NewSQLPlanLookup(db *sql.DB, driver string, opts ...SQLPlanOption) *SQLPlanLookup {
	q := activePlanQuery
	if driver == "postgres" || driver == "pgx" {
		q = strings.Replace(q, "?", "$1", 1)
	}
	l := &SQLPlanLookup{db: db, query: q, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SQLPlanLookup) ActivePlan(ctx context.Context, tenant domain.TenantID) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	var name sql.NullString
	err := l.db.QueryRowContext(ctx, l.query, string(tenant)).Scan(&name)
	if xerrors.Is(err, sql.ErrNoRows) {
		return domain.PlanNone, nil
	}
	if err != nil {
		return "", xerrors.Errorf("query active plan: %w", err)
	}
	if !name.Valid || strings.TrimSpace(name.String) == "" {
		return domain.PlanNone, nil
	}
	return name.String, nil
}
