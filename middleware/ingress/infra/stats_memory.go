package infra

import (
	"context"
	"sync"

	"webhook-gateway/middleware/ingress/domain"
)

type Counters struct {
	Allowed  int64
	Denied   int64
	FailOpen int64
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byReason map[domain.Reason]int64
	byTenant map[domain.TenantID]Counters

	trackTenants bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackTenants(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackTenants = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byReason: make(map[domain.Reason]int64),
		byTenant: make(map[domain.TenantID]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bump := func(c Counters) Counters {
		switch {
		case ev.Allowed && ev.FailOpen:
			c.Allowed++
			c.FailOpen++
		case ev.Allowed:
			c.Allowed++
		default:
			c.Denied++
		}
		return c
	}

	s.total = bump(s.total)
	if !ev.Allowed {
		s.byReason[ev.Reason]++
	}
	if s.trackTenants {
		s.byTenant[ev.Tenant] = bump(s.byTenant[ev.Tenant])
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByReason() map[domain.Reason]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Reason]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByTenant() map[domain.TenantID]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.TenantID]Counters, len(s.byTenant))
	for k, v := range s.byTenant {
		out[k] = v
	}
	return out
}
