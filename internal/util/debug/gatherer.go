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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// gatherCacheTTL is how long gathered metric families are reused.
const gatherCacheTTL = time.Second

// gatherer caches results of another Gatherer.
//
// Both the metrics endpoint and every statsviz series read from it,
// so one tick of the graphs page does not gather the registry many times.
type gatherer struct {
	g prometheus.Gatherer
	l *zap.Logger

	rw       sync.RWMutex
	gathered time.Time
	families []*dto.MetricFamily
}

// newGatherer returns a new gatherer.
func newGatherer(g prometheus.Gatherer, l *zap.Logger) *gatherer {
	return &gatherer{
		g: g,
		l: l,
	}
}

// Gather implements prometheus.Gatherer.
//
// Errors are logged, never returned.
func (g *gatherer) Gather() ([]*dto.MetricFamily, error) {
	g.rw.RLock()
	if time.Since(g.gathered) < gatherCacheTTL {
		res := g.families
		g.rw.RUnlock()

		return res, nil
	}
	g.rw.RUnlock()

	g.rw.Lock()
	defer g.rw.Unlock()

	if time.Since(g.gathered) < gatherCacheTTL {
		return g.families, nil
	}

	families, err := g.g.Gather()
	if err != nil {
		g.l.Warn("Failed to gather metrics", zap.Error(err), zap.Int("families", len(families)))
		families = nil
	}

	g.families, g.gathered = families, time.Now()

	return families, nil
}

// check interfaces
var (
	_ prometheus.Gatherer = (*gatherer)(nil)
)
