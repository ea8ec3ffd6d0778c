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

// Package postgresql provides the networked PostgreSQL backend.
package postgresql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"
	zapadapter "github.com/jackc/pgx-zap"
	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/util/fsql"
	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// Name is the backend name.
const Name = "postgresql"

// probeTimeout limits the health check round trip.
const probeTimeout = 2 * time.Second

// Config represents connection settings.
type Config struct {
	Host     string
	Port     int
	DBName   string
	User     string
	Password string
	SSLMode  string
}

// URL returns the connection URL for the settings.
func (c *Config) URL() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.DBName,
	}

	if c.User != "" {
		u.User = url.User(c.User)
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
	}

	values := url.Values{}

	if c.SSLMode != "" {
		values.Set("sslmode", c.SSLMode)
	}

	setDefaultValues(values)
	u.RawQuery = values.Encode()

	return u.String()
}

// setDefaultValues sets default query parameters.
func setDefaultValues(values url.Values) {
	values.Set("application_name", "appserver")

	// That only affects text protocol; pgx mostly uses a binary one.
	values.Set("timezone", "UTC")

	if !values.Has("connect_timeout") {
		values.Set("connect_timeout", "5")
	}
}

// backend implements backends.Backend for PostgreSQL.
type backend struct {
	config *pgx.ConnConfig
	l      *zap.Logger
}

// New returns a backend for the given settings.
//
// Host is required.
func New(c *Config, l *zap.Logger) (backends.Backend, error) {
	if c.Host == "" {
		return nil, lazyerrors.New("PostgreSQL host is not set")
	}

	return NewFromURL(c.URL(), l)
}

// NewFromURL returns a backend for the given connection URL.
//
// Default query parameters are added to it.
func NewFromURL(u string, l *zap.Logger) (backends.Backend, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	values := pu.Query()
	setDefaultValues(values)
	pu.RawQuery = values.Encode()

	config, err := pgx.ParseConfig(pu.String())
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	level := tracelog.LogLevelWarn
	if l.Core().Enabled(zap.DebugLevel) {
		level = tracelog.LogLevelDebug
	}

	config.Tracer = &tracelog.TraceLog{
		Logger:   zapadapter.NewLogger(l.Named("pgx")),
		LogLevel: level,
	}

	return &backend{
		config: config,
		l:      l,
	}, nil
}

// Name implements backends.Backend.
func (b *backend) Name() string {
	return Name
}

// Open implements backends.Backend.
func (b *backend) Open(context.Context) (*sql.DB, error) {
	// stdlib keeps a reference to the config, so give each handle its own copy
	return stdlib.OpenDB(*b.config.Copy()), nil
}

// Probe implements backends.Backend.
//
// The server may drop the socket while the process still believes it is open,
// so a round trip is required.
func (b *backend) Probe(ctx context.Context, conn *fsql.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := conn.ExecContext(ctx, "SELECT 1")

	return err
}

// Placeholder implements backends.Backend.
func (b *backend) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// ForUpdate implements backends.Backend.
func (b *backend) ForUpdate() string {
	return " FOR UPDATE"
}

// Serialized implements backends.Backend.
func (b *backend) Serialized() bool {
	return false
}

// ClassifyError implements backends.Backend.
func (b *backend) ClassifyError(err error) backends.ErrorCode {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code):
			return backends.ErrorCodeConnection
		default:
			return backends.ErrorCodeQuery
		}
	}

	var netErr net.Error

	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.As(err, &netErr),
		pgconn.SafeToRetry(err):
		return backends.ErrorCodeConnection
	default:
		return 0
	}
}

// check interfaces
var (
	_ backends.Backend = (*backend)(nil)
)
