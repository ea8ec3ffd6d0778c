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

package backends

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/util/fsql"
	"github.com/appserver/appserver/internal/util/observability"
	"github.com/appserver/appserver/internal/util/resource"
)

// errClosed is returned for operations on closed or nil handles.
var errClosed = errors.New("database handle is closed")

// serializedMu is held around every raw statement of backends that require it.
var serializedMu sync.Mutex

// Handle represents one physical connection to the database.
//
// It is not safe for concurrent use.
//
//nolint:vet // for readability
type Handle struct {
	b Backend
	l *zap.Logger

	db   *sql.DB
	conn *fsql.Conn

	// transaction depth, 0 means no open transaction
	depth int

	// set when the transaction state on the connection is unknown
	broken bool

	token *resource.Token
}

// Open opens a new handle for the given backend.
//
// Any failure is returned as *Error with ErrorCodeConnection.
func Open(ctx context.Context, b Backend, l *zap.Logger) (*Handle, error) {
	defer observability.FuncCall(ctx)()

	db, err := b.Open(ctx)
	if err != nil {
		l.Warn("Failed to open database", zap.String("backend", b.Name()), zap.Error(err))
		return nil, NewError(ErrorCodeConnection, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	sqlConn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()

		l.Warn("Failed to connect to database", zap.String("backend", b.Name()), zap.Error(err))

		return nil, NewError(ErrorCodeConnection, err)
	}

	h := &Handle{
		b:     b,
		l:     l,
		db:    db,
		conn:  fsql.WrapConn(sqlConn, l),
		token: resource.NewToken(),
	}

	resource.Track(h, h.token)
	handlesOpen.Add(1)

	if err = b.Probe(ctx, h.conn); err != nil {
		h.Close()

		l.Warn("Database probe failed", zap.String("backend", b.Name()), zap.Error(err))

		return nil, NewError(ErrorCodeConnection, err)
	}

	l.Debug("Database handle opened", zap.String("backend", b.Name()))

	return h, nil
}

// Close releases the connection.
//
// It is safe to call it on nil or already closed handle.
// An open transaction is aborted by the backend when the connection goes away.
func (h *Handle) Close() {
	if h == nil || h.conn == nil {
		return
	}

	resource.Untrack(h, h.token)
	handlesOpen.Add(-1)

	if err := errors.Join(h.conn.Close(), h.db.Close()); err != nil {
		h.l.Debug("Failed to close database handle", zap.Error(err))
	}

	h.db, h.conn = nil, nil
	h.depth = 0
}

// Health reports whether the handle is usable.
//
// It returns false for nil, closed and broken handles.
func (h *Handle) Health(ctx context.Context) bool {
	if h == nil || h.conn == nil {
		return false
	}

	if h.broken {
		h.l.Warn("Database handle is broken", zap.String("backend", h.b.Name()))
		return false
	}

	defer observability.FuncCall(ctx)()

	if err := h.b.Probe(ctx, h.conn); err != nil {
		h.l.Warn("Database health check failed", zap.String("backend", h.b.Name()), zap.Error(err))
		return false
	}

	return true
}

// Backend returns the backend name.
func (h *Handle) Backend() string {
	return h.b.Name()
}

// Placeholder returns a placeholder for the n-th (1-based) statement parameter.
func (h *Handle) Placeholder(n int) string {
	return h.b.Placeholder(n)
}

// Placeholders returns a comma-separated list of count placeholders starting from start.
func (h *Handle) Placeholders(start, count int) string {
	res := make([]string, count)
	for i := range res {
		res[i] = h.b.Placeholder(start + i)
	}

	return strings.Join(res, ", ")
}

// ForUpdate returns the row-locking clause for SELECT statements; it may be empty.
func (h *Handle) ForUpdate() string {
	return h.b.ForUpdate()
}

// Exec executes a statement that returns no rows.
func (h *Handle) Exec(ctx context.Context, query string) error {
	return h.ExecParams(ctx, query)
}

// ExecParams executes a statement with bound parameters that returns no rows.
//
// Parameters are never formatted into the statement text.
func (h *Handle) ExecParams(ctx context.Context, query string, params ...any) error {
	if h == nil || h.conn == nil {
		return newQueryError(ErrorCodeConnection, errClosed, query)
	}

	defer observability.FuncCall(ctx)()

	defer h.lock()()

	if _, err := h.conn.ExecContext(ctx, query, params...); err != nil {
		return h.queryError(err, query)
	}

	return nil
}

// Query executes a statement that returns rows.
func (h *Handle) Query(ctx context.Context, query string) (*Rows, error) {
	return h.QueryParams(ctx, query)
}

// QueryParams executes a statement with bound parameters that returns rows.
//
// The returned Rows are positioned before the first row and must be closed.
func (h *Handle) QueryParams(ctx context.Context, query string, params ...any) (*Rows, error) {
	if h == nil || h.conn == nil {
		return nil, newQueryError(ErrorCodeConnection, errClosed, query)
	}

	defer observability.FuncCall(ctx)()

	defer h.lock()()

	sqlRows, err := h.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, h.queryError(err, query)
	}

	rows, err := readRows(sqlRows)
	if err != nil {
		return nil, h.queryError(err, query)
	}

	return rows, nil
}

// lock acquires the process-wide statement lock if the backend requires it.
// It returns the function that releases it.
func (h *Handle) lock() func() {
	if !h.b.Serialized() {
		return func() {}
	}

	serializedMu.Lock()

	return serializedMu.Unlock
}

// queryError converts the driver error to *Error and logs its text.
func (h *Handle) queryError(err error, query string) error {
	code := h.b.ClassifyError(err)
	if code == 0 {
		code = ErrorCodeQuery
	}

	h.l.Warn(
		"SQL error",
		zap.String("backend", h.b.Name()),
		zap.Stringer("code", code),
		zap.String("sql", query),
		zap.Error(err),
	)

	return newQueryError(code, err, query)
}
