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


// Command appserver runs the application server.
//
// Configuration is read from environment variables.
// By default the process supervises a child copy of itself and restarts it after every exit;
// when running as PID 1 (in a container) it serves requests directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "golang.org/x/crypto/x509roots/fallback" // register root TLS certificates for production Docker image
	"golang.org/x/sync/errgroup"

	"github.com/appserver/appserver/build/version"
	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/backends/postgresql"
	"github.com/appserver/appserver/internal/backends/registry"
	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/handler"
	"github.com/appserver/appserver/internal/queue"
	"github.com/appserver/appserver/internal/router"
	"github.com/appserver/appserver/internal/schema"
	"github.com/appserver/appserver/internal/supervisor"
	"github.com/appserver/appserver/internal/templating"
	"github.com/appserver/appserver/internal/util/ctxutil"
	"github.com/appserver/appserver/internal/util/debug"
	"github.com/appserver/appserver/internal/util/debugbuild"
	"github.com/appserver/appserver/internal/util/logging"
	"github.com/appserver/appserver/internal/util/observability"
	"github.com/appserver/appserver/internal/worker"
)

// Operation modes.
const (
	modeAuto       = "auto"
	modeSupervisor = "supervisor"
	modeForeground = "foreground"
	modeChild      = "child"
)

// modeEnv is the environment variable selecting the operation mode.
const modeEnv = "APPSERVER_MODE"

// config represents all configuration values.
//
//nolint:lll // some tags are long
type config struct {
	DBBackend string `name:"db-backend" default:"sqlite" enum:"postgres,sqlite" env:"DB_BACKEND" help:"Database backend: 'postgres' or 'sqlite'."`

	PG struct {
		Host     string `default:""        env:"PG_HOST"     help:"PostgreSQL host; required for 'postgres' backend."`
		Port     int    `default:"5432"    env:"PG_PORT"     help:"PostgreSQL port."`
		DBName   string `default:"appdb"   env:"PG_DBNAME"   help:"PostgreSQL database name." name:"dbname"`
		User     string `default:"appuser" env:"PG_USER"     help:"PostgreSQL user."`
		Password string `default:""        env:"PG_PASSWORD" help:"PostgreSQL password."`
		SSLMode  string `default:"disable" env:"PG_SSLMODE"  help:"PostgreSQL SSL mode." name:"sslmode"`
	} `embed:"" prefix:"pg-"`

	SQLitePath string `name:"sqlite-path" default:"app.db" env:"SQLITE_PATH" help:"SQLite database file for 'sqlite' backend."`

	ServerPort  int    `default:"8080"      env:"SERVER_PORT"  help:"Listen TCP port."`
	NumWorkers  int    `default:"4"         env:"NUM_WORKERS"  help:"Number of workers, each with its own database handle."`
	TemplateDir string `default:"templates" env:"TEMPLATE_DIR" help:"Directory of HTML templates; embedded ones are used if it does not exist."`

	Mode         string        `default:"auto"           env:"APPSERVER_MODE"          help:"${help_mode}" enum:"${enum_mode}"`
	RestartDelay time.Duration `default:"1s"             env:"APPSERVER_RESTART_DELAY" help:"Delay before the supervisor restarts the child."`
	ReadTimeout  time.Duration `default:"5s"             env:"APPSERVER_READ_TIMEOUT"  help:"Request read timeout."`
	StopGrace    time.Duration `default:"5s"             env:"APPSERVER_STOP_GRACE"    help:"Time given to requests being processed after SIGTERM before they are canceled."`
	Migrate      bool          `default:"true"           env:"APPSERVER_MIGRATE"       help:"Apply database migrations at startup." negatable:""`
	DebugAddr    string        `default:"127.0.0.1:8088" env:"APPSERVER_DEBUG_ADDR"    help:"Listen address for HTTP handlers for metrics, pprof, etc."`
	OTLPEndpoint string        `default:""               env:"APPSERVER_OTLP_ENDPOINT" help:"OTLP/HTTP endpoint for traces." name:"otlp-endpoint"`

	Log struct {
		Level  string `default:"${default_log_level}" env:"APPSERVER_LOG_LEVEL"  help:"${help_log_level}"`
		Format string `default:"console"              env:"APPSERVER_LOG_FORMAT" help:"${help_log_format}" enum:"${enum_log_format}"`
	} `embed:"" prefix:"log-"`
}

// Validate implements kong.Validatable.
func (c *config) Validate() error {
	if c.DBBackend == registry.Postgres && c.PG.Host == "" {
		return errors.New("PG_HOST is required for postgres backend")
	}

	if c.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be positive, got %d", c.NumWorkers)
	}

	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.ServerPort)
	}

	return nil
}

var cli config

// Additional variables for the kong parsers.
var (
	logLevels = []string{
		zap.DebugLevel.String(),
		zap.InfoLevel.String(),
		zap.WarnLevel.String(),
		zap.ErrorLevel.String(),
	}

	logFormats = []string{"console", "json"}

	modes = []string{modeAuto, modeSupervisor, modeForeground, modeChild}

	kongOptions = []kong.Option{
		kong.Vars{
			"default_log_level": defaultLogLevel().String(),

			"enum_log_format": strings.Join(logFormats, ","),
			"enum_mode":       strings.Join(modes, ","),

			"help_log_format": fmt.Sprintf("Log format: '%s'.", strings.Join(logFormats, "', '")),
			"help_log_level":  fmt.Sprintf("Log level: '%s'.", strings.Join(logLevels, "', '")),
			"help_mode":       fmt.Sprintf("Operation mode: '%s'.", strings.Join(modes, "', '")),
		},
	}
)

func main() {
	if err := parseEnv(&cli); err != nil {
		log.Fatal(err)
	}

	os.Exit(run())
}

// parseEnv fills c from environment variables and validates it.
//
// Command-line arguments are ignored.
func parseEnv(c *config) error {
	parser, err := kong.New(c, kongOptions...)
	if err != nil {
		return err
	}

	if _, err = parser.Parse(nil); err != nil {
		return err
	}

	return c.Validate()
}

// defaultLogLevel returns the default log level.
func defaultLogLevel() zapcore.Level {
	if version.Get().DebugBuild {
		return zap.DebugLevel
	}

	return zap.InfoLevel
}

// setupLogger setups zap logger.
func setupLogger(mode string) *zap.Logger {
	info := version.Get()

	level, err := zapcore.ParseLevel(cli.Log.Level)
	if err != nil {
		log.Fatal(err)
	}

	logging.Setup(level, cli.Log.Format, "")
	l := zap.L().With(zap.String("mode", mode), zap.Int("pid", os.Getpid()))

	l.Info(
		"Starting appserver "+info.Version+"...",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("branch", info.Branch),
		zap.Bool("dirty", info.Dirty),
		zap.Bool("debugBuild", info.DebugBuild),
	)

	if debugbuild.Enabled {
		l.Info("This is debug build. The performance will be affected.")
	}

	return l
}

// setupMetrics returns Prometheus registry with process and Go runtime metrics.
func setupMetrics() *prometheus.Registry {
	r := prometheus.NewRegistry()

	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// mode returns the effective operation mode.
func mode() string {
	if cli.Mode != modeAuto {
		return cli.Mode
	}

	if supervisor.InContainer() {
		return modeForeground
	}

	return modeSupervisor
}

// run runs appserver in the configured mode and returns the process exit code.
func run() int {
	m := mode()
	logger := setupLogger(m)

	ctx, stop := ctxutil.SigTerm(context.Background())
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Stopping...")
		stop()
	}()

	if m == modeSupervisor {
		return runSupervisor(ctx, logger)
	}

	// to increase a chance of resource cleanups to spot problems
	if debugbuild.Enabled {
		defer func() {
			runtime.GC()
			runtime.GC()
		}()
	}

	// safe to always enable
	runtime.SetBlockProfileRate(10000)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
		logger.Sugar().Warnf("Failed to set GOMAXPROCS: %s.", err)
	}

	if err := runServer(ctx, logger); err != nil {
		logger.Error("Server failed", zap.Error(err))
		return 1
	}

	return 0
}

// runSupervisor restarts a child copy of this process until ctx is canceled.
func runSupervisor(ctx context.Context, logger *zap.Logger) int {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	s, err := supervisor.New(&supervisor.NewOpts{
		Command:      []string{exe},
		Env:          []string{modeEnv + "=" + modeChild},
		RestartDelay: cli.RestartDelay,
		Logger:       logger.Named("supervisor"),
	})
	if err != nil {
		logger.Error("Failed to create supervisor", zap.Error(err))
		return 1
	}

	if err = s.Run(ctx); err != nil {
		logger.Error("Supervisor failed", zap.Error(err))
		return 1
	}

	return 0
}

// runServer accepts and handles requests until ctx is canceled.
//
// Requests already taken by workers are completed; queued ones are dropped.
func runServer(ctx context.Context, logger *zap.Logger) error {
	info := version.Get()

	otelShutdown, err := observability.SetupOtel("appserver", info.Version, cli.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up OpenTelemetry: %w", err)
	}

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if e := otelShutdown(sctx); e != nil {
			logger.Warn("Failed to shut down OpenTelemetry", zap.Error(e))
		}
	}()

	b, err := registry.NewBackend(&registry.Config{
		Backend: cli.DBBackend,
		PostgreSQL: postgresql.Config{
			Host:     cli.PG.Host,
			Port:     cli.PG.Port,
			DBName:   cli.PG.DBName,
			User:     cli.PG.User,
			Password: cli.PG.Password,
			SSLMode:  cli.PG.SSLMode,
		},
		SQLitePath: cli.SQLitePath,
	}, logger)
	if err != nil {
		return err
	}

	var ready atomic.Bool

	metricsRegistry := setupMetrics()
	metricsRegistry.MustRegister(backends.NewMetricsCollector(b.Name()))

	g, gctx := errgroup.WithContext(ctx)

	// https://github.com/alecthomas/kong/issues/389
	if cli.DebugAddr != "" && cli.DebugAddr != "-" {
		h, err := debug.Listen(&debug.ListenOpts{
			TCPAddr: cli.DebugAddr,
			L:       logger.Named("debug"),
			R:       metricsRegistry,
			Ready:   func(context.Context) bool { return ready.Load() },
		})
		if err != nil {
			return fmt.Errorf("failed to create debug handler: %w", err)
		}

		g.Go(func() error {
			h.Serve(gctx)
			return nil
		})
	}

	if cli.Migrate {
		if err = schema.Migrate(ctx, b, logger.Named("schema")); err != nil {
			logger.Error("Failed to apply migrations", zap.Error(err))
		}
	}

	renderer := templating.New(templating.Dir(cli.TemplateDir), logger.Named("templating"))

	r := router.New()
	handler.New(&handler.NewOpts{
		Renderer: renderer,
		L:        logger.Named("handler"),
	}).Register(r)

	q := queue.New(logger.Named("queue"))

	pool, err := worker.New(&worker.NewOpts{
		Size:    cli.NumWorkers,
		Backend: b,
		Queue:   q,
		Router:  r,
		Logger:  logger.Named("pool"),
	})
	if err != nil {
		return err
	}

	l := clientconn.NewListener(&clientconn.NewListenerOpts{
		ListenAddr:  net.JoinHostPort("", strconv.Itoa(cli.ServerPort)),
		ReadTimeout: cli.ReadTimeout,
		Logger:      logger,
	})

	metricsRegistry.MustRegister(l, q, pool)

	// requests being processed see cancellation only after the grace period
	workCtx, workCancel := ctxutil.WithDelay(ctx.Done(), cli.StopGrace)
	defer workCancel()

	g.Go(func() error {
		return pool.Run(workCtx)
	})

	g.Go(func() error {
		// workers stop once the queue is shut down
		defer func() {
			if n := q.Shutdown(); n > 0 {
				logger.Info("Queued requests dropped", zap.Int("count", n))
			}
		}()

		return l.Run(gctx, q.Enqueue)
	})

	ready.Store(true)

	return g.Wait()
}
