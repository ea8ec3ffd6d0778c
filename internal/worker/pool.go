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

// Package worker provides the fixed pool of workers that execute requests.
package worker

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/queue"
	"github.com/appserver/appserver/internal/router"
	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// ErrServiceUnavailable is returned when a worker has no healthy database handle.
// Such requests are answered with 503.
var ErrServiceUnavailable = errors.New("service unavailable")

// Pool is a fixed set of workers.
// Each worker owns one database handle and consumes requests from the queue.
type Pool struct {
	opts *NewOpts
}

// NewOpts represents pool configuration.
type NewOpts struct {
	Size    int
	Backend backends.Backend
	Queue   *queue.Queue
	Router  *router.Router
	Logger  *zap.Logger
	Metrics *Metrics // NewMetrics() if nil
}

// New creates a new pool.
func New(opts *NewOpts) (*Pool, error) {
	if opts.Size <= 0 {
		return nil, lazyerrors.Errorf("invalid pool size %d", opts.Size)
	}

	if opts.Backend == nil || opts.Queue == nil || opts.Router == nil || opts.Logger == nil {
		return nil, lazyerrors.New("backend, queue, router and logger are required")
	}

	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	return &Pool{
		opts: opts,
	}, nil
}

// Run runs all workers and returns when all of them stopped.
//
// Workers stop only when the queue is shut down.
// ctx is used for opening handles and as the parent of request contexts;
// its cancellation is visible to handlers of requests being processed.
func (p *Pool) Run(ctx context.Context) error {
	p.opts.Logger.Info("Starting workers", zap.Int("size", p.opts.Size), zap.String("backend", p.opts.Backend.Name()))

	var g errgroup.Group

	for i := range p.opts.Size {
		w := &worker{
			id: i,
			p:  p,
			l:  p.opts.Logger.Named("worker-" + strconv.Itoa(i)),
		}

		g.Go(func() error {
			w.run(ctx)
			return nil
		})
	}

	err := g.Wait()

	p.opts.Logger.Info("All workers stopped")

	return err
}

// Describe implements prometheus.Collector.
func (p *Pool) Describe(ch chan<- *prometheus.Desc) {
	p.opts.Metrics.Describe(ch)
}

// Collect implements prometheus.Collector.
func (p *Pool) Collect(ch chan<- prometheus.Metric) {
	p.opts.Metrics.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Pool)(nil)
)
