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

// Package fsql provides [database/sql] utilities.
package fsql

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/util/observability"
	"github.com/appserver/appserver/internal/util/resource"
)

// Conn wraps [*database/sql.Conn] with tracing, logging, and resource tracking.
//
// It exposes the subset of *sql.Conn methods we use.
type Conn struct {
	conn  *sql.Conn
	l     *zap.Logger
	token *resource.Token
}

// WrapConn creates a new Conn.
//
// Logger is used for query logging.
func WrapConn(conn *sql.Conn, l *zap.Logger) *Conn {
	if conn == nil {
		return nil
	}

	res := &Conn{
		conn:  conn,
		l:     l,
		token: resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res
}

// Close calls [*sql.Conn.Close].
func (c *Conn) Close() error {
	resource.Untrack(c, c.token)
	return c.conn.Close()
}

// PingContext calls [*sql.Conn.PingContext].
func (c *Conn) PingContext(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	return c.conn.PingContext(ctx)
}

// QueryContext calls [*sql.Conn.QueryContext].
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	c.l.Sugar().With(fields...).Debugf(">>> %s", query)

	rows, err := c.conn.QueryContext(ctx, query, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(err))
	c.l.Sugar().With(fields...).Debugf("<<< %s", query)

	return rows, err
}

// ExecContext calls [*sql.Conn.ExecContext].
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	c.l.Sugar().With(fields...).Debugf(">>> %s", query)

	res, err := c.conn.ExecContext(ctx, query, args...)

	// to differentiate between 0 and nil
	var ra *int64

	if res != nil {
		if rav, e := res.RowsAffected(); e == nil {
			ra = &rav
		}
	}

	fields = append(fields, zap.Int64p("rows", ra), zap.Duration("time", time.Since(start)), zap.Error(err))
	c.l.Sugar().With(fields...).Debugf("<<< %s", query)

	return res, err
}
