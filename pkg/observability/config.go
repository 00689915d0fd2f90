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

// Package observability wires OpenTelemetry tracing and Prometheus metrics
// for the orchestrator loop. It is ambient infrastructure: nothing depends
// on it being enabled. pkg/orchestrator accepts an optional *Manager and
// reports through it when one is configured; the other packages do not
// use it.
package observability

import "fmt"

const (
	// DefaultServiceName identifies this process in traces.
	DefaultServiceName = "noface"

	// DefaultMetricsPath is where Prometheus metrics are served.
	DefaultMetricsPath = "/metrics"

	// DefaultSamplingRate traces everything by default; this is a
	// developer tool, not a high-QPS service.
	DefaultSamplingRate = 1.0
)

// Config configures the observability system.
type Config struct {
	// Tracing enables span emission for each iteration, batch dispatch,
	// and manifest verification.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Metrics enables the Prometheus counters/gauges described in
	// metrics.go and the HTTP endpoint that serves them.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on tracing. Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter selects the trace exporter. Only "stdout" is supported —
	// there is no metrics/tracing collector in scope for this system, so
	// shipping an OTLP exporter would be a dependency with no destination.
	Exporter string `yaml:"exporter,omitempty"`

	// ServiceName identifies this process in emitted spans.
	ServiceName string `yaml:"service_name,omitempty"`

	// SamplingRate controls what fraction of traces are sampled, 0..1.
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP handler.
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the path the metrics handler is mounted at.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Namespace prefixes every metric name (e.g. "noface_iterations_total").
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults applies default values to Config.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks the Config for errors.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// SetDefaults applies default values to TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
}

// Validate checks TracingConfig for errors.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Exporter != "stdout" {
		return fmt.Errorf("invalid exporter %q (only \"stdout\" is supported)", c.Exporter)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	return nil
}

// SetDefaults applies default values to MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = "noface"
	}
}

// Validate checks MetricsConfig for errors.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when metrics are enabled")
	}
	return nil
}
