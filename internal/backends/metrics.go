// Copyright 2021 FerretDB Inc.
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

package backends

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "appserver"
	subsystem = "backends"
)

// handlesOpen is the number of open handles in the process.
var handlesOpen atomic.Int64

// metricsCollector exposes handle state as Prometheus metrics.
type metricsCollector struct {
	labels prometheus.Labels
}

// NewMetricsCollector creates a new collector for handles of the given backend.
func NewMetricsCollector(backend string) prometheus.Collector {
	return &metricsCollector{
		labels: prometheus.Labels{
			"backend": backend,
		},
	}
}

// Describe implements prometheus.Collector.
func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "handles_open"),
			"The number of open database handles.",
			nil, c.labels,
		),
		prometheus.GaugeValue,
		float64(handlesOpen.Load()),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*metricsCollector)(nil)
)
