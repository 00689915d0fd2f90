// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator loop.
type Metrics struct {
	registry *prometheus.Registry

	iterationsTotal     prometheus.Counter
	batchesCompleted    prometheus.Counter
	workersBusy         prometheus.Gauge
	violationsRecorded  prometheus.Counter
	locksHeld           prometheus.Gauge
	attemptsByResult    *prometheus.CounterVec
	agentIdleTimeouts   prometheus.Counter
	manifestAccuracy    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance. Returns nil if cfg is nil or
// disabled — callers must nil-check before use, matching the rest of this
// package's optional-observability posture.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.iterationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Name: "iterations_total",
		Help: "Total orchestrator loop iterations run.",
	})
	m.batchesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Name: "batches_completed_total",
		Help: "Total batches that reached completed status.",
	})
	m.workersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Name: "workers_busy",
		Help: "Number of worker slots currently starting or running.",
	})
	m.violationsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Name: "manifest_violations_total",
		Help: "Total manifest compliance violations recorded.",
	})
	m.locksHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Name: "locks_held",
		Help: "Number of file locks currently held.",
	})
	m.attemptsByResult = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Name: "attempts_total",
		Help: "Total recorded attempts, labeled by result.",
	}, []string{"result"})
	m.agentIdleTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Name: "agent_idle_timeouts_total",
		Help: "Total agent child processes killed for idle timeout.",
	})
	m.manifestAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Name: "manifest_prediction_accuracy",
		Help: "Most recent |predicted ∩ touched| / |predicted ∪ touched| ratio.",
	})

	m.registry.MustRegister(
		m.iterationsTotal, m.batchesCompleted, m.workersBusy,
		m.violationsRecorded, m.locksHeld, m.attemptsByResult,
		m.agentIdleTimeouts, m.manifestAccuracy,
	)

	return m, nil
}

// IterationStarted increments the iterations counter.
func (m *Metrics) IterationStarted() {
	if m == nil {
		return
	}
	m.iterationsTotal.Inc()
}

// BatchCompleted increments the completed-batches counter.
func (m *Metrics) BatchCompleted() {
	if m == nil {
		return
	}
	m.batchesCompleted.Inc()
}

// SetWorkersBusy sets the current busy-worker gauge.
func (m *Metrics) SetWorkersBusy(n int) {
	if m == nil {
		return
	}
	m.workersBusy.Set(float64(n))
}

// ViolationRecorded increments the manifest-violation counter.
func (m *Metrics) ViolationRecorded() {
	if m == nil {
		return
	}
	m.violationsRecorded.Inc()
}

// SetLocksHeld sets the current lock-table size gauge.
func (m *Metrics) SetLocksHeld(n int) {
	if m == nil {
		return
	}
	m.locksHeld.Set(float64(n))
}

// AttemptRecorded increments the per-result attempt counter.
func (m *Metrics) AttemptRecorded(result string) {
	if m == nil {
		return
	}
	m.attemptsByResult.WithLabelValues(result).Inc()
}

// AgentIdleTimeout increments the idle-timeout-kill counter.
func (m *Metrics) AgentIdleTimeout() {
	if m == nil {
		return
	}
	m.agentIdleTimeouts.Inc()
}

// SetManifestAccuracy records the most recent prediction-accuracy ratio.
func (m *Metrics) SetManifestAccuracy(ratio float64) {
	if m == nil {
		return
	}
	m.manifestAccuracy.Set(ratio)
}

// Handler returns the HTTP handler serving these metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
