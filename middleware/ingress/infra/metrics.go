package infra

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"webhook-gateway/middleware/ingress/domain"
)

// Metrics contém os coletores Prometheus da entrada de eventos.
//
// Não há label de tenant: a cardinalidade ficaria ilimitada.
type Metrics struct {
	admissions    *prometheus.CounterVec
	failOpen      prometheus.Counter
	flushes       *prometheus.CounterVec
	flushDuration prometheus.Histogram
	saturated     prometheus.Counter
}

// NewMetrics registra os coletores em reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		admissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admission_decisions_total",
				Help: "Total number of admission decisions, by result and denial reason",
			},
			[]string{"result", "reason"},
		),
		failOpen: f.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_admission_fail_open_total",
				Help: "Admissions allowed because the shared store was unavailable",
			},
		),
		flushes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_buffer_flushes_total",
				Help: "Deferred buffer flush executions, by outcome",
			},
			[]string{"outcome"},
		),
		flushDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_buffer_flush_duration_seconds",
				Help:    "Duration of deferred buffer flushes in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms a ~8s
			},
		),
		saturated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_webhook_saturated_total",
				Help: "Webhook deliveries rejected because every in-flight slot was busy",
			},
		),
	}
}

// WebhookSaturated conta uma entrega rejeitada por falta de vaga.
func (m *Metrics) WebhookSaturated() { m.saturated.Inc() }

// Record implementa domain.StatsStore.
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	result := "allowed"
	if !ev.Allowed {
		result = "denied"
	}
	m.admissions.WithLabelValues(result, string(ev.Reason)).Inc()
	if ev.FailOpen {
		m.failOpen.Inc()
	}
	return nil
}

// InstrumentFlush embrulha o handler de flush medindo duração e resultado.
func (m *Metrics) InstrumentFlush(h domain.FlushHandler) domain.FlushHandler {
	return instrumentedFlush{next: h, m: m}
}

type instrumentedFlush struct {
	next domain.FlushHandler
	m    *Metrics
}

func (i instrumentedFlush) Flush(ctx context.Context, job domain.FlushJob) error {
	start := time.Now()
	err := i.next.Flush(ctx, job)
	i.m.flushDuration.Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.m.flushes.WithLabelValues(outcome).Inc()
	return err
}

// MultiStats repassa cada evento para vários StatsStore; devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (ms MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range ms {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
