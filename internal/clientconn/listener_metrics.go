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

package clientconn

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "appserver"
	subsystem = "listener"
)

// ListenerMetrics represents listener metrics.
type ListenerMetrics struct {
	Connected   prometheus.Gauge
	Accepts     *prometheus.CounterVec
	ParseErrors prometheus.Counter
	Responses   *prometheus.CounterVec
}

// NewListenerMetrics creates new listener metrics.
func NewListenerMetrics() *ListenerMetrics {
	return &ListenerMetrics{
		Connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connected",
				Help:      "The current number of connections waiting for a response.",
			},
		),
		Accepts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "accepts_total",
				Help:      "Total number of accepted client connections.",
			},
			[]string{"error"},
		),
		ParseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "parse_errors_total",
				Help:      "Total number of malformed requests.",
			},
		),
		Responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "responses_total",
				Help:      "Total number of closed connections by response status; 0 means no response.",
			},
			[]string{"status"},
		),
	}
}

// done records a closed connection.
func (lm *ListenerMetrics) done(status int) {
	lm.Connected.Dec()
	lm.Responses.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Describe implements prometheus.Collector.
func (lm *ListenerMetrics) Describe(ch chan<- *prometheus.Desc) {
	lm.Connected.Describe(ch)
	lm.Accepts.Describe(ch)
	lm.ParseErrors.Describe(ch)
	lm.Responses.Describe(ch)
}

// Collect implements prometheus.Collector.
func (lm *ListenerMetrics) Collect(ch chan<- prometheus.Metric) {
	lm.Connected.Collect(ch)
	lm.Accepts.Collect(ch)
	lm.ParseErrors.Collect(ch)
	lm.Responses.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*ListenerMetrics)(nil)
)
