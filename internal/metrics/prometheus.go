package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kiln"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stepDuration  *prom.HistogramVec
	stepOutcomes  *prom.CounterVec
	buildDuration prom.Histogram
	buildOutcomes *prom.CounterVec
	staleSkips    *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them with reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	buckets := []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	pr := &PrometheusRecorder{
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual pipeline steps",
			Buckets:   buckets,
		}, []string{"step"}),
		stepOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "step_outcomes_total",
			Help:      "Step results by outcome",
		}, []string{"step", "outcome"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total pipeline duration",
			Buckets:   buckets,
		}),
		buildOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Pipeline runs by final status",
		}, []string{"outcome"}),
		staleSkips: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stale_skips_total",
			Help:      "Steps skipped because their output was up to date",
		}, []string{"step"}),
	}
	reg.MustRegister(pr.stepDuration, pr.stepOutcomes, pr.buildDuration, pr.buildOutcomes, pr.staleSkips)
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	if p == nil {
		return
	}
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStepOutcome(step, outcome string) {
	if p == nil {
		return
	}
	p.stepOutcomes.WithLabelValues(step, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil {
		return
	}
	p.buildOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncStaleSkip(step string) {
	if p == nil {
		return
	}
	p.staleSkips.WithLabelValues(step).Inc()
}

// HTTPHandler returns an http.Handler that serves the metrics gathered by g.
func HTTPHandler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
