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

package debug

import (
	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/appserver/appserver/internal/util/must"
)

// metricValue returns the sum of all samples of the named gauge or counter.
//
// Missing metrics are reported as zero.
func metricValue(g prometheus.Gatherer, name string) float64 {
	families, _ := g.Gather()

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		var sum float64

		for _, m := range mf.GetMetric() {
			sum += sampleValue(mf.GetType(), m)
		}

		return sum
	}

	return 0
}

// sampleValue returns the value of a single sample.
func sampleValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue()
	case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	case dto.MetricType_SUMMARY:
		return float64(m.GetSummary().GetSampleCount())
	default:
		return 0
	}
}

// plots returns server-specific statsviz plots.
func plots(g prometheus.Gatherer) []statsviz.TimeSeriesPlot {
	series := func(name, metric string) statsviz.TimeSeries {
		return statsviz.TimeSeries{
			Name:     name,
			Unitfmt:  "%{y:.4s}",
			GetValue: func() float64 { return metricValue(g, metric) },
		}
	}

	queue := must.NotFail(statsviz.TimeSeriesPlotConfig{
		Name:       "appserver-queue",
		Title:      "Request queue",
		Type:       statsviz.Scatter,
		InfoText:   "Requests waiting for a worker and busy workers.",
		YAxisTitle: "requests",
		Series: []statsviz.TimeSeries{
			series("queued", "appserver_queue_length"),
			series("busy workers", "appserver_worker_busy"),
		},
	}.Build())

	requests := must.NotFail(statsviz.TimeSeriesPlotConfig{
		Name:       "appserver-requests",
		Title:      "Requests",
		Type:       statsviz.Bar,
		InfoText:   "Total accepted and answered requests.",
		YAxisTitle: "requests",
		Series: []statsviz.TimeSeries{
			series("accepted", "appserver_listener_accepts_total"),
			series("answered", "appserver_worker_requests_total"),
		},
	}.Build())

	handles := must.NotFail(statsviz.TimeSeriesPlotConfig{
		Name:       "appserver-handles",
		Title:      "Database handles",
		Type:       statsviz.Scatter,
		InfoText:   "Open database handles and reconnect attempts.",
		YAxisTitle: "handles",
		Series: []statsviz.TimeSeries{
			series("open", "appserver_backends_handles_open"),
			series("reconnects", "appserver_worker_reconnects_total"),
		},
	}.Build())

	return []statsviz.TimeSeriesPlot{queue, requests, handles}
}
