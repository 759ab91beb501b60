// internal/session/metrics.go
package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ColonelBlimp/hrvmeter/internal/hrv"
)

const metricsNamespace = "hrvmeter"

// Metrics exports session activity to Prometheus. It is an hrv.Observer sink
// and also counts raw samples fed by the Runner.
type Metrics struct {
	samples    prometheus.Counter
	dropped    prometheus.Counter
	bpmUpdates prometheus.Counter
	sessions   *prometheus.CounterVec
	lastBPM    prometheus.Gauge
	lastRMSSD  prometheus.Gauge
	lastAvgHR  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_total",
			Help:      "Raw intensity samples fed to the processor.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_dropped_total",
			Help:      "Non-finite samples rejected by the processor.",
		}),
		bpmUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bpm_updates_total",
			Help:      "Live BPM estimates delivered.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Completed sessions by outcome.",
		}, []string{"outcome"}),
		lastBPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_bpm",
			Help:      "Most recent live BPM estimate.",
		}),
		lastRMSSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_rmssd_ms",
			Help:      "RMSSD of the most recent valid session in milliseconds.",
		}),
		lastAvgHR: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_average_hr",
			Help:      "Average heart rate of the most recent valid session.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.samples, m.dropped, m.bpmUpdates, m.sessions, m.lastBPM, m.lastRMSSD, m.lastAvgHR,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveSample counts one raw sample; dropped marks a non-finite one.
func (m *Metrics) ObserveSample(dropped bool) {
	m.samples.Inc()
	if dropped {
		m.dropped.Inc()
	}
}

func (m *Metrics) OnBPMUpdate(bpm int) {
	m.bpmUpdates.Inc()
	m.lastBPM.Set(float64(bpm))
}

func (m *Metrics) OnSessionComplete(result hrv.Result) {
	if !result.Valid() {
		m.sessions.WithLabelValues("insufficient").Inc()
		return
	}
	m.sessions.WithLabelValues("valid").Inc()
	m.lastRMSSD.Set(result.RMSSD)
	m.lastAvgHR.Set(float64(result.AverageHR))
}
