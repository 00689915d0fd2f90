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
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Manager owns the lifecycle of the tracer and metrics registry. A nil
// *Manager is valid everywhere it's accepted — every accessor and the
// increment helpers on Metrics are nil-safe, so components can simply hold
// a *Manager without branching on whether observability is enabled.
type Manager struct {
	config  *Config
	tracer  *Tracer
	metrics *Metrics
}

// NewManager creates a Manager from configuration, starting tracing and/or
// metrics collection as enabled.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if cfg == nil {
		return &Manager{}, nil
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	m := &Manager{config: cfg}

	if cfg.Tracing.Enabled {
		tracer, err := NewTracer(ctx, &cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		m.tracer = tracer
		slog.Info("observability: tracing initialized",
			"exporter", cfg.Tracing.Exporter, "sampling_rate", cfg.Tracing.SamplingRate)
	}

	if cfg.Metrics.Enabled {
		metrics, err := NewMetrics(&cfg.Metrics)
		if err != nil {
			if m.tracer != nil {
				_ = m.tracer.Shutdown(ctx)
			}
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		m.metrics = metrics
		slog.Info("observability: metrics initialized", "endpoint", cfg.Metrics.Endpoint)
	}

	return m, nil
}

// Tracer returns the tracer, or nil if tracing is disabled.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// Metrics returns the metrics instance, or nil if metrics are disabled.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// MetricsHandler returns the HTTP handler for the metrics endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	if m == nil || m.metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return m.metrics.Handler()
}

// MetricsEndpoint returns the configured metrics path.
func (m *Manager) MetricsEndpoint() string {
	if m == nil || m.config == nil {
		return DefaultMetricsPath
	}
	return m.config.Metrics.Endpoint
}

// Shutdown stops tracing cleanly.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.tracer == nil {
		return nil
	}
	if err := m.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer shutdown: %w", err)
	}
	return nil
}
