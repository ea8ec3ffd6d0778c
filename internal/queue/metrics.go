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

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "appserver"
	subsystem = "queue"
)

// lengthDesc describes the current queue length.
var lengthDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, subsystem, "length"),
	"The current number of queued requests.",
	nil, nil,
)

// metrics represents queue counters.
type metrics struct {
	enqueued prometheus.Counter
	dequeued prometheus.Counter
	dropped  prometheus.Counter
}

// newMetrics creates new queue counters.
func newMetrics() *metrics {
	return &metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "enqueued_total",
			Help:      "Total number of enqueued requests.",
		}),
		dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dequeued_total",
			Help:      "Total number of requests passed to workers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_total",
			Help:      "Total number of requests released without dispatch.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.enqueued.Describe(ch)
	m.dequeued.Describe(ch)
	m.dropped.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.enqueued.Collect(ch)
	m.dequeued.Collect(ch)
	m.dropped.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*metrics)(nil)
)
