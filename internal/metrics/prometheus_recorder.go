package metrics

import (
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "srcgenhost"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	connectionOutcome  *prom.CounterVec
	connectionDuration prom.Histogram
	activeConnections  prom.Gauge
	runDuration        *prom.HistogramVec
	groupDuration      *prom.HistogramVec
	generatorResults   *prom.CounterVec
	artifacts          *prom.CounterVec
	poolEvents         *prom.CounterVec
	projectCache       *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.connectionOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "connection_outcomes_total",
			Help:      "Completed build server connections by completion reason",
		}, []string{"reason"})
		pr.connectionDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Duration of build server connections",
			Buckets:   prom.DefBuckets,
		})
		pr.activeConnections = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections currently being served",
		})
		pr.runDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of whole engine runs",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.groupDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "group_duration_seconds",
			Help:      "Duration of individual scheduling groups",
			Buckets:   prom.DefBuckets,
		}, []string{"group"})
		pr.generatorResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "generator_results_total",
			Help:      "Generator invocations by outcome",
		}, []string{"generator", "result"})
		pr.artifacts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Generated artifacts by write outcome",
		}, []string{"result"})
		pr.poolEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "isolation_pool_events_total",
			Help:      "Isolation pool lookups and invalidations",
		}, []string{"event"})
		pr.projectCache = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "project_cache_lookups_total",
			Help:      "Project model cache lookups by result",
		}, []string{"result"})
		reg.MustRegister(pr.connectionOutcome, pr.connectionDuration, pr.activeConnections, pr.runDuration,
			pr.groupDuration, pr.generatorResults, pr.artifacts, pr.poolEvents, pr.projectCache)
	})
	return pr
}

func (p *PrometheusRecorder) IncConnectionOutcome(reason string) {
	if p == nil || p.connectionOutcome == nil {
		return
	}
	p.connectionOutcome.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) ObserveConnectionDuration(d time.Duration) {
	if p == nil || p.connectionDuration == nil {
		return
	}
	p.connectionDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetActiveConnections(n int) {
	if p == nil || p.activeConnections == nil {
		return
	}
	p.activeConnections.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration, result ResultLabel) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.WithLabelValues(string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveGroupDuration(group int, d time.Duration) {
	if p == nil || p.groupDuration == nil {
		return
	}
	p.groupDuration.WithLabelValues(strconv.Itoa(group)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncGeneratorResult(generator string, result ResultLabel) {
	if p == nil || p.generatorResults == nil {
		return
	}
	p.generatorResults.WithLabelValues(generator, string(result)).Inc()
}

func (p *PrometheusRecorder) IncArtifact(result WriteLabel) {
	if p == nil || p.artifacts == nil {
		return
	}
	p.artifacts.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncPoolEvent(event PoolEvent) {
	if p == nil || p.poolEvents == nil {
		return
	}
	p.poolEvents.WithLabelValues(string(event)).Inc()
}

func (p *PrometheusRecorder) IncProjectCache(hit bool) {
	if p == nil || p.projectCache == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.projectCache.WithLabelValues(res).Inc()
}
