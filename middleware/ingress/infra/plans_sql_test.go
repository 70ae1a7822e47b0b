package infra

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"webhook-gateway/middleware/ingress/domain"
)

const testPlansSchema = `
CREATE TABLE plans (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE subscriptions (
	tenant_id  TEXT NOT NULL,
	plan_id    INTEGER NOT NULL REFERENCES plans(id),
	status     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
INSERT INTO plans (id, name) VALUES (1, 'basic'), (2, 'pro'), (3, 'corporate'), (4, NULL);
`

func newPlansDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// um banco :memory: por conexão
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testPlansSchema)
	require.NoError(t, err)
	return db
}

func subscribe(t *testing.T, db *sql.DB, tenant string, planID int, status string, at time.Time) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO subscriptions (tenant_id, plan_id, status, created_at) VALUES (?, ?, ?, ?)`,
		tenant, planID, status, at.UTC().Format("2006-01-02 15:04:05"))
	require.NoError(t, err)
}

func TestSQLPlanLookup_ActivePlan(t *testing.T) {
	ctx := context.Background()
	db := newPlansDB(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	subscribe(t, db, "clinic-1", 1, "active", base)
	subscribe(t, db, "clinic-1", 2, "active", base.Add(24*time.Hour))
	subscribe(t, db, "clinic-2", 3, "canceled", base)
	subscribe(t, db, "clinic-3", 4, "active", base)

	l := NewSQLPlanLookup(db, "sqlite")

	cases := []struct {
		tenant domain.TenantID
		want   string
	}{
		{"clinic-1", "pro"},           // assinatura mais recente vence
		{"clinic-2", domain.PlanNone}, // só assinatura cancelada
		{"clinic-3", domain.PlanNone}, // plano sem nome
		{"nobody", domain.PlanNone},
	}
	for _, c := range cases {
		got, err := l.ActivePlan(ctx, c.tenant)
		require.NoError(t, err, c.tenant)
		require.Equal(t, c.want, got, c.tenant)
	}
}

func TestSQLPlanLookup_ErrorIsReturned(t *testing.T) {
	db := newPlansDB(t)
	l := NewSQLPlanLookup(db, "sqlite", WithQueryTimeout(time.Second))
	require.NoError(t, db.Close())

	_, err := l.ActivePlan(context.Background(), "clinic-1")
	require.Error(t, err)
}

func TestNewSQLPlanLookup_PostgresPlaceholder(t *testing.T) {
	l := NewSQLPlanLookup(nil, "postgres")
	require.Contains(t, l.query, "s.tenant_id = $1")
	require.NotContains(t, l.query, "?")
}
