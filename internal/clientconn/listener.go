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
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/util/ctxutil"
	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// Defaults for NewListenerOpts.
const (
	DefaultReadTimeout = 5 * time.Second
	DefaultMaxBodySize = 1 << 20
)

// EnqueueFunc hands a parsed request over to workers.
//
// If it returns an error, the request must already be answered or released.
type EnqueueFunc func(*Request) error

// Listener accepts incoming client connections.
//
// It is the only producer of requests: connections are accepted and parsed one at a time,
// so requests are enqueued in arrival order.
type Listener struct {
	opts      *NewListenerOpts
	metrics   *ListenerMetrics
	listener  net.Listener
	listening chan struct{}
}

// NewListenerOpts represents listener configuration.
type NewListenerOpts struct {
	ListenAddr  string
	ReadTimeout time.Duration // DefaultReadTimeout if zero
	MaxBodySize int           // DefaultMaxBodySize if zero
	Metrics     *ListenerMetrics
	Logger      *zap.Logger
}

// NewListener returns a new listener, configured by the NewListenerOpts argument.
func NewListener(opts *NewListenerOpts) *Listener {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}

	if opts.Metrics == nil {
		opts.Metrics = NewListenerMetrics()
	}

	return &Listener{
		opts:      opts,
		metrics:   opts.Metrics,
		listening: make(chan struct{}),
	}
}

// Run runs the listener until ctx is done or some unrecoverable error occurs.
//
// Every parsed request is passed to enqueue.
// When this method returns, the listening socket is closed;
// connections of enqueued requests are owned by those requests.
func (l *Listener) Run(ctx context.Context, enqueue EnqueueFunc) error {
	logger := l.opts.Logger.Named("listener")

	var err error
	if l.listener, err = net.Listen("tcp", l.opts.ListenAddr); err != nil {
		return lazyerrors.Error(err)
	}

	close(l.listening)
	logger.Sugar().Infof("Listening on %s ...", l.Addr())

	// handle ctx cancellation
	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		netConn, err := l.listener.Accept()
		if err != nil {
			l.metrics.Accepts.WithLabelValues("1").Inc()

			if ctx.Err() != nil {
				break
			}

			if errors.Is(err, net.ErrClosed) {
				logger.Error("Listening socket closed", zap.Error(err))
				return lazyerrors.Error(err)
			}

			logger.Warn("Failed to accept connection", zap.Error(err))
			ctxutil.Sleep(ctx, time.Second)

			continue
		}

		l.metrics.Accepts.WithLabelValues("0").Inc()
		l.metrics.Connected.Inc()

		req, err := l.read(netConn)
		if err != nil {
			l.metrics.ParseErrors.Inc()
			logger.Debug("Invalid request", zap.Stringer("remote", netConn.RemoteAddr()), zap.Error(err))

			_ = req.RespondString(http.StatusBadRequest, "text/plain", "Invalid Request")

			continue
		}

		logger.Debug("Request accepted", zap.Stringer("request", req))

		if err = enqueue(req); err != nil {
			logger.Debug("Request was not enqueued", zap.String("id", req.ID), zap.Error(err))
		}
	}

	logger.Info("Listener stopped.")

	return nil
}

// read reads and parses a single request from the connection.
//
// The returned request is never nil; on error it may only be used to answer the client.
func (l *Listener) read(netConn net.Conn) (*Request, error) {
	req := newRequest(netConn, l.metrics.done)
	req.RemoteAddr = netConn.RemoteAddr().String()

	if err := netConn.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout)); err != nil {
		return req, lazyerrors.Error(err)
	}

	if err := parse(bufio.NewReader(netConn), l.opts.MaxBodySize, req); err != nil {
		return req, err
	}

	if err := netConn.SetReadDeadline(time.Time{}); err != nil {
		return req, lazyerrors.Error(err)
	}

	return req, nil
}

// Addr returns listener's address.
// It can be used to determine an actually used port, if it was zero.
func (l *Listener) Addr() net.Addr {
	<-l.listening
	return l.listener.Addr()
}

// Describe implements prometheus.Collector.
func (l *Listener) Describe(ch chan<- *prometheus.Desc) {
	l.metrics.Describe(ch)
}

// Collect implements prometheus.Collector.
func (l *Listener) Collect(ch chan<- prometheus.Metric) {
	l.metrics.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Listener)(nil)
)
