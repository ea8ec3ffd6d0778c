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
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/util/fsql"
	"github.com/appserver/appserver/internal/util/testutil"
)

// errConnLost is classified as a connection error by mockBackend.
var errConnLost = errors.New("connection lost")

// mockBackend is a Backend over sqlmock.
type mockBackend struct {
	db         *sql.DB
	openErr    error
	probeErr   error
	serialized bool
}

func (b *mockBackend) Name() string { return "mock" }

func (b *mockBackend) Open(context.Context) (*sql.DB, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}

	return b.db, nil
}

func (b *mockBackend) Probe(context.Context, *fsql.Conn) error { return b.probeErr }

func (b *mockBackend) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (b *mockBackend) ForUpdate() string { return " FOR UPDATE" }

func (b *mockBackend) Serialized() bool { return b.serialized }

func (b *mockBackend) ClassifyError(err error) ErrorCode {
	if errors.Is(err, errConnLost) {
		return ErrorCodeConnection
	}

	return 0
}

// setup returns an open handle over sqlmock with exact statement matching.
func setup(tb testing.TB, l *zap.Logger) (*Handle, *mockBackend, sqlmock.Sqlmock) {
	tb.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(tb, err)

	if l == nil {
		l = testutil.Logger(tb)
	}

	b := &mockBackend{db: db}

	h, err := Open(context.Background(), b, l)
	require.NoError(tb, err)

	tb.Cleanup(h.Close)

	return h, b, mock
}

// expectExec adds a successful statement expectation.
func expectExec(mock sqlmock.Sqlmock, query string) {
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))
}
