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

// Package debug provides debug facilities.
package debug

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"slices"
	"text/template"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/appserver/appserver/internal/util/logging"
	"github.com/appserver/appserver/internal/util/must"
)

// Handler serves debug endpoints.
type Handler struct {
	lis net.Listener
	s   *http.Server
	l   *zap.Logger

	handlers map[string]string
}

// ListenOpts represents [Listen] options.
type ListenOpts struct {
	TCPAddr string
	L       *zap.Logger
	R       *prometheus.Registry

	// Ready reports readiness for /debug/readyz; nil means always ready.
	Ready func(context.Context) bool
}

// Listen creates a new debug handler and starts listening on the given address.
func Listen(opts *ListenOpts) (*Handler, error) {
	lis, err := net.Listen("tcp", opts.TCPAddr)
	if err != nil {
		return nil, err
	}

	stdL := must.NotFail(zap.NewStdLogAt(opts.L, zap.WarnLevel))
	g := newGatherer(opts.R, opts.L)

	mux := http.NewServeMux()

	mux.Handle("/debug/metrics", promhttp.InstrumentMetricHandler(
		opts.R, promhttp.HandlerFor(g, promhttp.HandlerOpts{
			ErrorLog:          stdL,
			ErrorHandling:     promhttp.ContinueOnError,
			Registry:          opts.R,
			EnableOpenMetrics: true,
		}),
	))

	vizOpts := []statsviz.Option{statsviz.Root("/debug/graphs")}
	for _, p := range plots(g) {
		vizOpts = append(vizOpts, statsviz.TimeseriesPlot(p))
	}

	if err = statsviz.Register(mux, vizOpts...); err != nil {
		_ = lis.Close()
		return nil, err
	}

	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/debug/livez", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/debug/readyz", func(rw http.ResponseWriter, req *http.Request) {
		if opts.Ready != nil && !opts.Ready(req.Context()) {
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}

		rw.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/debug/logs", func(rw http.ResponseWriter, req *http.Request) {
		level := zapcore.DebugLevel
		if s := req.URL.Query().Get("level"); s != "" {
			if err := level.Set(s); err != nil {
				http.Error(rw, err.Error(), http.StatusBadRequest)
				return
			}
		}

		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")

		for _, e := range logging.RecentEntries.Get(level) {
			fmt.Fprintf(rw, "%s\t%s\t%s\t%s\n", e.Time.Format(time.RFC3339Nano), e.Level.CapitalString(), e.LoggerName, e.Message)
		}
	})

	handlers := map[string]string{
		"/debug/graphs":  "Visualize metrics",
		"/debug/metrics": "Metrics in Prometheus format",
		"/debug/livez":   "Liveness probe",
		"/debug/readyz":  "Readiness probe",
		"/debug/logs":    "Recent log entries",
		"/debug/vars":    "Expvar package metrics",
		"/debug/pprof":   "Runtime profiling data for pprof",
	}

	var page bytes.Buffer
	must.NoError(template.Must(template.New("debug").Parse(`
	<html>
	<body>
	<ul>
	{{range $path, $desc := .}}
		<li><a href="{{$path}}">{{$path}}</a>: {{$desc}}</li>
	{{end}}
	</ul>
	</body>
	</html>
	`)).Execute(&page, handlers))

	mux.HandleFunc("/debug", func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write(page.Bytes())
	})

	mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		http.Redirect(rw, req, "/debug", http.StatusSeeOther)
	})

	return &Handler{
		lis: lis,
		s: &http.Server{
			Handler:           mux,
			ErrorLog:          stdL,
			ReadHeaderTimeout: 5 * time.Second,
		},
		l:        opts.L,
		handlers: handlers,
	}, nil
}

// Addr returns the listener address.
func (h *Handler) Addr() net.Addr {
	return h.lis.Addr()
}

// Serve runs the debug handler until ctx is canceled.
func (h *Handler) Serve(ctx context.Context) {
	h.s.BaseContext = func(net.Listener) context.Context { return ctx }

	root := fmt.Sprintf("http://%s", h.lis.Addr())
	h.l.Sugar().Infof("Starting debug server on %s ...", root)

	paths := make([]string, 0, len(h.handlers))
	for p := range h.handlers {
		paths = append(paths, p)
	}

	slices.Sort(paths)

	for _, p := range paths {
		h.l.Sugar().Debugf("%s%s - %s", root, p, h.handlers[p])
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := h.s.Serve(h.lis); !errors.Is(err, http.ErrServerClosed) {
			h.l.Error("Debug server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()

	_ = h.s.Shutdown(stopCtx) //nolint:contextcheck // use new context for cancellation
	_ = h.s.Close()

	<-done

	h.l.Info("Debug server stopped.")
}
