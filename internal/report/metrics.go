package report

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dark-ant616/DarkDiskz/internal/planner"
)

// Version and Rev can be overridden at build time via -ldflags.
var (
	Version = "dev"
	Rev     = ""
)

// Metrics is a Reporter that exports execution counters to prometheus.
type Metrics struct {
	reg          *prometheus.Registry
	stepsTotal   *prometheus.CounterVec
	stepLatency  *prometheus.HistogramVec
	txTotal      *prometheus.CounterVec
	smartHealthy *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "darkdiskz_plan_steps_total",
				Help: "Plan steps executed, by exit outcome.",
			},
			[]string{"outcome"},
		),
		stepLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "darkdiskz_plan_step_duration_seconds",
				Help:    "Latency of executed plan steps by step id.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		txTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "darkdiskz_transactions_total",
				Help: "Finished transactions by result.",
			},
			[]string{"result"},
		),
		smartHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "darkdiskz_smart_healthy",
				Help: "SMART verdict per device: 1 pass, 0 fail, -1 unknown.",
			},
			[]string{"device"},
		),
	}
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "darkdiskz_build_info",
		Help:        "Build info of the daemon.",
		ConstLabels: prometheus.Labels{"version": Version, "rev": Rev},
	})
	buildInfo.Set(1)
	m.reg.MustRegister(m.stepsTotal, m.stepLatency, m.txTotal, m.smartHealthy, buildInfo)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SetSmartVerdict records the scheduled scan's outcome for a device.
func (m *Metrics) SetSmartVerdict(device string, v float64) {
	m.smartHealthy.WithLabelValues(device).Set(v)
}

func (m *Metrics) StepStarted(txID string, index int, step planner.Step) {}

func (m *Metrics) StepFinished(txID string, res StepResult) {
	outcome := "ok"
	if res.Code != 0 {
		outcome = "error"
	}
	m.stepsTotal.WithLabelValues(outcome).Inc()
	m.stepLatency.WithLabelValues(res.StepID).Observe(res.Duration.Seconds())
}

func (m *Metrics) Finished(txID string, ok bool, failedStep int, errMsg string) {
	result := "completed"
	if !ok {
		result = "failed"
	}
	m.txTotal.WithLabelValues(result).Inc()
}
