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
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/backends/sqlite"
	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/queue"
	"github.com/appserver/appserver/internal/router"
	"github.com/appserver/appserver/internal/util/fsql"
	"github.com/appserver/appserver/internal/util/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/valyala/fasthttp.updateServerDate.func1"))
}

// errDown is returned by flakyBackend while the database is down.
var errDown = errors.New("database is down")

// flakyBackend is a SQLite backend that can be switched off.
type flakyBackend struct {
	backends.Backend
	down atomic.Bool
}

// Open implements backends.Backend.
func (b *flakyBackend) Open(ctx context.Context) (*sql.DB, error) {
	if b.down.Load() {
		return nil, errDown
	}

	return b.Backend.Open(ctx)
}

// Probe implements backends.Backend.
func (b *flakyBackend) Probe(ctx context.Context, conn *fsql.Conn) error {
	if b.down.Load() {
		return errDown
	}

	return b.Backend.Probe(ctx, conn)
}

// testRouter returns routes used by tests.
func testRouter() *router.Router {
	r := router.New()

	r.Handle("/ok", func(ctx context.Context, req *clientconn.Request, h *backends.Handle) {
		rows, err := h.Query(ctx, "SELECT 1")
		if err != nil {
			_ = req.RespondString(http.StatusInternalServerError, "", err.Error())
			return
		}

		defer rows.Close()

		rows.Next()
		_ = req.RespondString(http.StatusOK, "text/plain", strconv.Itoa(rows.Int(0)))
	})

	r.Handle("/depth", func(ctx context.Context, req *clientconn.Request, h *backends.Handle) {
		_ = req.RespondString(http.StatusOK, "text/plain", strconv.Itoa(h.Depth()))
	})

	r.Handle("/leak", func(ctx context.Context, req *clientconn.Request, h *backends.Handle) {
		if err := h.Begin(ctx); err != nil {
			panic(err)
		}

		_ = req.RespondString(http.StatusOK, "text/plain", "leaked")
	})

	r.Handle("/panic", func(context.Context, *clientconn.Request, *backends.Handle) {
		panic("boom")
	})

	r.Handle("/silent", func(context.Context, *clientconn.Request, *backends.Handle) {})

	return r
}

// setup starts a pool of the given size and returns its queue, backend and metrics.
// The pool is stopped on cleanup.
func setup(t *testing.T, size int, down bool) (*queue.Queue, *flakyBackend, *Metrics) {
	t.Helper()

	l := testutil.Logger(t)

	b := &flakyBackend{Backend: sqlite.New(testutil.SQLitePath(t), l)}
	b.down.Store(down)

	q := queue.New(l)
	m := NewMetrics()

	p, err := New(&NewOpts{
		Size:    size,
		Backend: b,
		Queue:   q,
		Router:  testRouter(),
		Logger:  l,
		Metrics: m,
	})
	require.NoError(t, err)

	ctx := testutil.Ctx(t)
	done := make(chan error)

	go func() {
		done <- p.Run(ctx)
	}()

	t.Cleanup(func() {
		q.Shutdown()
		require.NoError(t, <-done)
	})

	return q, b, m
}

// do enqueues the request and waits for the response.
func do(t *testing.T, q *queue.Queue, path string) (int, string) {
	t.Helper()

	req, rec := clientconn.NewTestRequest(http.MethodGet, path, nil, nil)
	require.NoError(t, q.Enqueue(req))

	require.Eventually(t, rec.Closed, 5*time.Second, 10*time.Millisecond)

	resp, err := rec.Response()
	require.NoError(t, err)

	return resp.StatusCode(), string(resp.Body())
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(&NewOpts{Size: 0})
	assert.Error(t, err)

	_, err = New(&NewOpts{Size: 4})
	assert.Error(t, err)
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	q, _, m := setup(t, 2, false)

	status, body := do(t, q, "/ok")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body)

	status, body = do(t, q, "/nowhere")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "<h1>404 Not Found</h1>", body)

	status, _ = do(t, q, "/silent")
	assert.Equal(t, http.StatusInternalServerError, status)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.requests.WithLabelValues("200", string(resultOK))))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.requests.WithLabelValues("404", string(resultNotFound))))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.requests.WithLabelValues("500", string(resultUnanswered))))
}

func TestPanic(t *testing.T) {
	t.Parallel()

	q, _, m := setup(t, 1, false)

	status, body := do(t, q, "/panic")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "<h1>500 Internal Server Error</h1>", body)

	// the worker survives with a new handle
	status, body = do(t, q, "/ok")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body)

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.reconnects.WithLabelValues("ok")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.requests.WithLabelValues("500", string(resultPanic))))
}

func TestLeakedTransaction(t *testing.T) {
	t.Parallel()

	q, _, _ := setup(t, 1, false)

	status, body := do(t, q, "/leak")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "leaked", body)

	status, body = do(t, q, "/depth")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", body)
}

func TestServiceUnavailable(t *testing.T) {
	t.Parallel()

	q, b, m := setup(t, 1, true)

	status, body := do(t, q, "/ok")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "<h1>503 Service Unavailable</h1>", body)

	// routing happens only after the handle check
	status, _ = do(t, q, "/nowhere")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	b.down.Store(false)

	status, body = do(t, q, "/ok")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body)

	// the connection goes away between requests
	b.down.Store(true)

	status, _ = do(t, q, "/ok")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	b.down.Store(false)

	status, _ = do(t, q, "/ok")
	assert.Equal(t, http.StatusOK, status)

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.reconnects.WithLabelValues("ok")))
	assert.Equal(t, 4.0, promtestutil.ToFloat64(m.reconnects.WithLabelValues("error")))
	assert.Equal(t, 3.0, promtestutil.ToFloat64(m.requests.WithLabelValues("503", string(resultUnavailable))))
}

func TestCancel(t *testing.T) {
	t.Parallel()

	l := testutil.Logger(t)
	q := queue.New(l)

	started := make(chan struct{})

	r := router.New()
	r.Handle("/wait", func(ctx context.Context, req *clientconn.Request, _ *backends.Handle) {
		close(started)
		<-ctx.Done()
		_ = req.RespondString(http.StatusServiceUnavailable, "", "canceled")
	})

	p, err := New(&NewOpts{
		Size:    1,
		Backend: sqlite.New(testutil.SQLitePath(t), l),
		Queue:   q,
		Router:  r,
		Logger:  l,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(testutil.Ctx(t))
	defer cancel()

	done := make(chan error)

	go func() {
		done <- p.Run(ctx)
	}()

	req, rec := clientconn.NewTestRequest(http.MethodGet, "/wait", nil, nil)
	require.NoError(t, q.Enqueue(req))

	<-started
	cancel()

	require.Eventually(t, rec.Closed, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Status())

	q.Shutdown()
	require.NoError(t, <-done)
}
