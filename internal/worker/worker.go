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

package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	otelattribute "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/router"
	"github.com/appserver/appserver/internal/util/observability"
)

// result represents the outcome of a single request.
type result string

const (
	resultOK          = result("ok")
	resultNotFound    = result("not_found")
	resultUnavailable = result("unavailable")
	resultUnanswered  = result("unanswered")
	resultPanic       = result("panic")
)

// worker is a single consumer of the queue.
//
// Its handle is never used by other workers.
type worker struct {
	id int
	p  *Pool
	l  *zap.Logger
	h  *backends.Handle
}

// run processes requests until the queue is shut down.
func (w *worker) run(ctx context.Context) {
	defer func() {
		w.h.Close()
		w.h = nil

		w.l.Debug("Worker stopped")
	}()

	// the first failure is not fatal; the next request retries
	if err := w.connect(ctx); err != nil {
		w.l.Warn("Failed to open database handle at start", zap.Error(err))
	}

	for {
		req, ok := w.p.opts.Queue.Dequeue()
		if !ok {
			return
		}

		w.serve(ctx, req)
	}
}

// connect closes the current handle, if any, and opens a new one.
func (w *worker) connect(ctx context.Context) error {
	w.h.Close()
	w.h = nil

	h, err := backends.Open(ctx, w.p.opts.Backend, w.l)
	if err != nil {
		w.p.opts.Metrics.reconnects.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	w.p.opts.Metrics.reconnects.WithLabelValues("ok").Inc()
	w.h = h

	return nil
}

// ensureHandle checks the handle's health and reopens it if needed.
func (w *worker) ensureHandle(ctx context.Context) error {
	if w.h.Health(ctx) {
		return nil
	}

	w.l.Info("Database handle is not healthy, reconnecting")

	return w.connect(ctx)
}

// serve processes a single request and makes sure that it is answered.
func (w *worker) serve(ctx context.Context, req *clientconn.Request) {
	start := time.Now()

	m := w.p.opts.Metrics
	m.busy.Inc()

	ctx, span := observability.Tracer().Start(
		ctx,
		req.Method+" "+req.Path,
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(
			otelattribute.String("http.request.method", req.Method),
			otelattribute.String("url.path", req.Path),
			otelattribute.String("appserver.request_id", req.ID),
			otelattribute.Int("appserver.worker", w.id),
		),
	)

	l := w.l.With(zap.String("request", req.ID))

	res := w.dispatch(ctx, l, req)

	status := req.Status()

	m.requests.WithLabelValues(strconv.Itoa(status), string(res)).Inc()
	m.duration.WithLabelValues(string(res)).Observe(time.Since(start).Seconds())
	m.busy.Dec()

	span.SetAttributes(otelattribute.Int("http.response.status_code", status))

	if res == resultOK {
		span.SetStatus(otelcodes.Ok, "")
	} else {
		span.SetStatus(otelcodes.Error, string(res))
	}

	span.End()

	level := zap.WarnLevel
	switch res {
	case resultOK:
		level = zap.InfoLevel
	case resultPanic, resultUnanswered:
		level = zap.ErrorLevel
	}

	l.Log(
		level, "Request handled",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", status),
		zap.String("result", string(res)),
		zap.Duration("duration", time.Since(start)),
	)
}

// dispatch checks the handle, routes the request and calls the handler.
//
// Handler panics are recovered; the handle is discarded then,
// since its state is unknown.
func (w *worker) dispatch(ctx context.Context, l *zap.Logger, req *clientconn.Request) (res result) {
	defer func() {
		if p := recover(); p != nil {
			l.Error("Handler panicked", zap.String("panic", fmt.Sprintf("%[1]v (%[1]T)", p)), zap.Stack("stack"))

			w.h.Close()
			w.h = nil

			res = resultPanic
		}

		if req.Answered() {
			return
		}

		if res == resultOK {
			l.Error("Handler did not answer the request")
			res = resultUnanswered
		}

		_ = req.RespondString(http.StatusInternalServerError, "", "<h1>500 Internal Server Error</h1>")
	}()

	if err := w.ensureHandle(ctx); err != nil {
		l.Warn("No database handle", zap.Error(err))

		if errors.Is(err, ErrServiceUnavailable) {
			_ = req.RespondString(http.StatusServiceUnavailable, "", "<h1>503 Service Unavailable</h1>")
		}

		return resultUnavailable
	}

	h, ok := w.p.opts.Router.Match(req)
	if !ok {
		_ = req.RespondString(http.StatusNotFound, "", "<h1>404 Not Found</h1>")
		return resultNotFound
	}

	w.handle(ctx, l, h, req)

	return resultOK
}

// handle calls the handler and unwinds a transaction it left open.
func (w *worker) handle(ctx context.Context, l *zap.Logger, h router.HandlerFunc, req *clientconn.Request) {
	h(ctx, req, w.h)

	if d := w.h.Depth(); d > 0 {
		l.Warn("Handler left transaction open, rolling back", zap.Int("depth", d))

		if err := w.h.Reset(ctx); err != nil {
			l.Warn("Failed to roll back leaked transaction, closing handle", zap.Error(err))

			w.h.Close()
			w.h = nil
		}
	}
}
