// Copyright 2024 The FOTA Packager authors. All Rights Reserved.
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

// Package metrics records packaging runs as Prometheus metrics.
//
// The packager is a batch tool, so metrics are written out in the text
// exposition format for a node exporter textfile collector rather than
// served over HTTP.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/transparency-dev/fota-packager/api"
)

// Metrics holds the packaging metrics in a private registry. All methods
// are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	packageBytes prometheus.Histogram
	fragments    prometheus.Histogram
	duration     prometheus.Histogram
}

// New returns a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fota_packaging_runs_total",
			Help: "Packaging runs by layout and outcome.",
		}, []string{"layout", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fota_packaging_failures_total",
			Help: "Failed packaging runs by error kind.",
		}, []string{"kind"}),
		packageBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fota_package_bytes",
			Help:    "Size of built packages in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		fragments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fota_package_fragments",
			Help:    "Number of fragment rows per package, redundancy included.",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fota_packaging_duration_seconds",
			Help:    "Wall time of a packaging run.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.runs, m.failures, m.packageBytes, m.fragments, m.duration)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Succeeded records a successful run.
func (m *Metrics) Succeeded(layout string, packageLen, fragments int, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(layout, "ok").Inc()
	m.packageBytes.Observe(float64(packageLen))
	m.fragments.Observe(float64(fragments))
	m.duration.Observe(d.Seconds())
}

// Failed records a failed run.
func (m *Metrics) Failed(layout string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(layout, "error").Inc()
	m.failures.WithLabelValues(Kind(err)).Inc()
	m.duration.Observe(d.Seconds())
}

// WriteFile writes the metrics to path in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return errors.New("metrics not enabled")
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Kind maps err onto a low cardinality label value.
func Kind(err error) string {
	var ce *api.CollaboratorError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &ce):
		return "collaborator_" + ce.Collaborator
	case errors.Is(err, api.ErrIdentityMissing):
		return "identity_missing"
	case errors.Is(err, api.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, api.ErrSignatureLengthUnsupported):
		return "signature_length"
	case errors.Is(err, api.ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, api.ErrMalformedFragment):
		return "malformed_fragment"
	case errors.Is(err, api.ErrKeyMaterialUnparseable):
		return "key_material"
	}
	return "other"
}
