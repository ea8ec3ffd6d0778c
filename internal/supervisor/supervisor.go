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

// Package supervisor implements crash-only restarts of the server process.
package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/appserver/appserver/internal/util/ctxutil"
	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// Defaults for NewOpts.
const (
	DefaultRestartDelay = time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Parts of Prometheus metric names.
const (
	namespace = "appserver"
	subsystem = "supervisor"
)

// Supervisor runs the child process and restarts it after every exit.
type Supervisor struct {
	opts     *NewOpts
	restarts prometheus.Counter
}

// NewOpts represents supervisor configuration.
type NewOpts struct {
	// Command is the child's executable path and arguments.
	Command []string

	// Env is added to the supervisor's environment for the child.
	Env []string

	RestartDelay time.Duration // DefaultRestartDelay if zero
	StopTimeout  time.Duration // DefaultStopTimeout if zero
	Logger       *zap.Logger

	// Stdout and Stderr of the child; supervisor's ones if nil.
	Stdout io.Writer
	Stderr io.Writer
}

// New creates a new supervisor.
func New(opts *NewOpts) (*Supervisor, error) {
	if len(opts.Command) == 0 {
		return nil, lazyerrors.New("command is required")
	}

	if opts.RestartDelay == 0 {
		opts.RestartDelay = DefaultRestartDelay
	}

	if opts.StopTimeout == 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	return &Supervisor{
		opts: opts,
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restarts_total",
			Help:      "Total number of child process restarts.",
		}),
	}, nil
}

// Run starts the child and restarts it after any exit, waiting RestartDelay between runs.
//
// When ctx is canceled, the child receives SIGTERM and Run returns after it exits
// (or is killed after StopTimeout).
func (s *Supervisor) Run(ctx context.Context) error {
	l := s.opts.Logger

	for {
		s.runOnce(ctx)

		if ctx.Err() != nil {
			l.Info("Supervisor stopped")
			return nil
		}

		l.Info("Restarting child", zap.Duration("delay", s.opts.RestartDelay))
		ctxutil.Sleep(ctx, s.opts.RestartDelay)

		if ctx.Err() != nil {
			l.Info("Supervisor stopped")
			return nil
		}

		s.restarts.Inc()
	}
}

// runOnce starts the child and waits for its exit.
func (s *Supervisor) runOnce(ctx context.Context) {
	l := s.opts.Logger

	cmd := exec.CommandContext(ctx, s.opts.Command[0], s.opts.Command[1:]...)
	cmd.Env = append(os.Environ(), s.opts.Env...)
	cmd.Stdout = s.opts.Stdout
	cmd.Stderr = s.opts.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = s.opts.StopTimeout

	start := time.Now()

	if err := cmd.Start(); err != nil {
		l.Error("Failed to start child", zap.Strings("command", s.opts.Command), zap.Error(err))
		return
	}

	l.Info("Child started", zap.Int("pid", cmd.Process.Pid))

	err := cmd.Wait()

	fields := append(exitStatus(cmd.ProcessState), zap.Duration("uptime", time.Since(start)))

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fields = append(fields, zap.Error(err))
	}

	l.Warn("Child exited", fields...)
}

// exitStatus returns log fields describing how the process exited.
func exitStatus(state *os.ProcessState) []zap.Field {
	if state == nil {
		return []zap.Field{zap.String("status", "unknown")}
	}

	fields := []zap.Field{zap.Int("pid", state.Pid())}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return append(fields, zap.String("signal", unix.SignalName(ws.Signal())))
	}

	return append(fields, zap.Int("code", state.ExitCode()))
}

// InContainer returns true if the process is the init process of a container,
// where the container runtime supervises it.
func InContainer() bool {
	return unix.Getpid() == 1
}

// Describe implements prometheus.Collector.
func (s *Supervisor) Describe(ch chan<- *prometheus.Desc) {
	s.restarts.Describe(ch)
}

// Collect implements prometheus.Collector.
func (s *Supervisor) Collect(ch chan<- prometheus.Metric) {
	s.restarts.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Supervisor)(nil)
)
