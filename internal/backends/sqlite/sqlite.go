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

// Package sqlite provides the embedded single-file SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/util/fsql"
	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// Name is the backend name.
const Name = "sqlite"

// DefaultPath is the database file used when no path is configured.
const DefaultPath = "app.db"

// backend implements backends.Backend for SQLite.
type backend struct {
	dsn string
	l   *zap.Logger
}

// New returns a backend for the database file at the given path.
//
// Empty path means [DefaultPath].
func New(path string, l *zap.Logger) backends.Backend {
	if path == "" {
		path = DefaultPath
	}

	return &backend{
		dsn: DSN(path),
		l:   l,
	}
}

// DSN returns the data source name for the database file.
//
// A writer that finds the database locked fails immediately instead of waiting.
func DSN(path string) string {
	values := url.Values{}
	values.Add("_pragma", "busy_timeout(0)")
	values.Add("_pragma", "foreign_keys(1)")

	return "file:" + path + "?" + values.Encode()
}

// Name implements backends.Backend.
func (b *backend) Name() string {
	return Name
}

// Open implements backends.Backend.
func (b *backend) Open(context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", b.dsn)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return db, nil
}

// Probe implements backends.Backend.
//
// The database is a local file; pinging the connection is enough.
func (b *backend) Probe(ctx context.Context, conn *fsql.Conn) error {
	return conn.PingContext(ctx)
}

// Placeholder implements backends.Backend.
func (b *backend) Placeholder(n int) string {
	return "?" + strconv.Itoa(n)
}

// ForUpdate implements backends.Backend.
//
// SQLite locks the whole database for writing instead.
func (b *backend) ForUpdate() string {
	return ""
}

// Serialized implements backends.Backend.
func (b *backend) Serialized() bool {
	return true
}

// ClassifyError implements backends.Backend.
func (b *backend) ClassifyError(err error) backends.ErrorCode {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return 0
	}

	// extended result codes keep the primary code in the low byte
	switch e.Code() & 0xff {
	case sqlitelib.SQLITE_CANTOPEN, sqlitelib.SQLITE_NOTADB, sqlitelib.SQLITE_IOERR, sqlitelib.SQLITE_CORRUPT:
		return backends.ErrorCodeConnection
	default:
		return backends.ErrorCodeQuery
	}
}

// IsBusy returns true if err is caused by another connection holding the database lock.
func IsBusy(err error) bool {
	var e *sqlite.Error
	return errors.As(err, &e) && e.Code()&0xff == sqlitelib.SQLITE_BUSY
}

// check interfaces
var (
	_ backends.Backend = (*backend)(nil)
)
