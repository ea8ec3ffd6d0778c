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

// Package queue provides the FIFO of parsed requests between the listener and workers.
package queue

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/util/must"
)

// ErrStopped is returned by Enqueue after Shutdown.
var ErrStopped = errors.New("queue is stopped")

// node is a single queued request.
type node struct {
	req  *clientconn.Request
	next *node
}

// Queue is an unbounded FIFO of requests for one producer and many consumers.
//
// Enqueue never blocks; Dequeue blocks until a request is available or the queue is shut down.
//
//nolint:vet // for readability
type Queue struct {
	l *zap.Logger

	m        sync.Mutex
	c        *sync.Cond
	head     *node
	tail     *node
	length   int
	stopping bool

	metrics *metrics
}

// New creates a new empty queue.
func New(l *zap.Logger) *Queue {
	q := &Queue{
		l:       l,
		metrics: newMetrics(),
	}

	q.c = sync.NewCond(&q.m)

	return q
}

// Enqueue appends the request at the tail and wakes one waiting consumer.
//
// After Shutdown, the request is released and ErrStopped is returned.
func (q *Queue) Enqueue(req *clientconn.Request) error {
	q.m.Lock()

	if q.stopping {
		q.m.Unlock()

		q.metrics.dropped.Inc()
		req.Release()

		return ErrStopped
	}

	n := &node{req: req}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}

	q.tail = n
	q.length++

	q.c.Signal()
	q.m.Unlock()

	q.metrics.enqueued.Inc()
	q.l.Debug("Request enqueued", zap.Stringer("request", req))

	return nil
}

// Dequeue removes and returns the head request.
//
// It blocks while the queue is empty and not stopped.
// It returns false once the queue is stopped; that is the only termination signal for consumers.
func (q *Queue) Dequeue() (*clientconn.Request, bool) {
	q.m.Lock()
	defer q.m.Unlock()

	for q.head == nil && !q.stopping {
		q.c.Wait()
	}

	if q.head == nil {
		return nil, false
	}

	n := q.head

	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}

	q.length--
	must.BeTrue((q.head == nil) == (q.length == 0))

	q.metrics.dequeued.Inc()
	q.l.Debug("Request dequeued", zap.Stringer("request", n.req))

	return n.req, true
}

// Shutdown stops the queue and wakes all blocked consumers.
//
// Requests still queued are released without being dispatched; their number is returned.
// Calling it again does nothing and returns 0.
func (q *Queue) Shutdown() int {
	q.m.Lock()

	if q.stopping {
		q.m.Unlock()
		return 0
	}

	q.stopping = true

	head := q.head
	dropped := q.length

	q.head, q.tail, q.length = nil, nil, 0

	q.c.Broadcast()
	q.m.Unlock()

	for n := head; n != nil; n = n.next {
		n.req.Release()
	}

	q.metrics.dropped.Add(float64(dropped))
	q.l.Info("Queue stopped", zap.Int("dropped", dropped))

	return dropped
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.m.Lock()
	defer q.m.Unlock()

	return q.length
}

// Describe implements prometheus.Collector.
func (q *Queue) Describe(ch chan<- *prometheus.Desc) {
	q.metrics.Describe(ch)
	ch <- lengthDesc
}

// Collect implements prometheus.Collector.
func (q *Queue) Collect(ch chan<- prometheus.Metric) {
	q.metrics.Collect(ch)
	ch <- prometheus.MustNewConstMetric(lengthDesc, prometheus.GaugeValue, float64(q.Len()))
}

// check interfaces
var (
	_ prometheus.Collector = (*Queue)(nil)
)
