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
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appserver/appserver/internal/util/testutil"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("OpenFails", func(t *testing.T) {
		t.Parallel()

		b := &mockBackend{openErr: errors.New("no such host")}

		h, err := Open(testutil.Ctx(t), b, testutil.Logger(t))
		assert.Nil(t, h)
		require.True(t, ErrorCodeIs(err, ErrorCodeConnection))

		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "no such host", e.Message())
	})

	t.Run("ProbeFails", func(t *testing.T) {
		t.Parallel()

		db, mock, err := sqlmock.New()
		require.NoError(t, err)

		mock.ExpectClose()

		b := &mockBackend{db: db, probeErr: errConnLost}

		h, err := Open(testutil.Ctx(t), b, testutil.Logger(t))
		assert.Nil(t, h)
		require.True(t, ErrorCodeIs(err, ErrorCodeConnection))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHandleNil(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	var h *Handle

	assert.NotPanics(t, h.Close)
	assert.False(t, h.Health(ctx))
	assert.Equal(t, 0, h.Depth())

	err := h.Exec(ctx, "SELECT 1")
	assert.True(t, ErrorCodeIs(err, ErrorCodeConnection))

	rows, err := h.Query(ctx, "SELECT 1")
	assert.Nil(t, rows)
	assert.True(t, ErrorCodeIs(err, ErrorCodeConnection))

	assert.True(t, ErrorCodeIs(h.Begin(ctx), ErrorCodeConnection))
	assert.True(t, ErrorCodeIs(h.Commit(ctx), ErrorCodeConnection))
	assert.NoError(t, h.Reset(ctx))
}

func TestHandleClose(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	h, _, mock := setup(t, nil)

	mock.ExpectClose()

	assert.True(t, h.Health(ctx))

	h.Close()
	h.Close()

	assert.False(t, h.Health(ctx))
	assert.True(t, ErrorCodeIs(h.Exec(ctx, "SELECT 1"), ErrorCodeConnection))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	h, b, _ := setup(t, nil)

	assert.True(t, h.Health(ctx))

	b.probeErr = errConnLost
	assert.False(t, h.Health(ctx))

	b.probeErr = nil
	assert.True(t, h.Health(ctx))
}

func TestHandleExec(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	h, _, mock := setup(t, nil)

	value := "'); DROP TABLE users; --"

	mock.ExpectExec("INSERT INTO users (dni, name) VALUES ($1, $2)").
		WithArgs("12345678A", value).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := "INSERT INTO users (dni, name) VALUES (" + h.Placeholders(1, 2) + ")"
	require.NoError(t, h.ExecParams(ctx, q, "12345678A", value))

	mock.ExpectExec("CREATE TABLE").
		WillReturnError(errors.New(`syntax error at end of input`))

	err := h.Exec(ctx, "CREATE TABLE")
	require.True(t, ErrorCodeIs(err, ErrorCodeQuery))

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "syntax error at end of input", e.Message())
	assert.Equal(t, "CREATE TABLE", e.Query())
	assert.Equal(t, "QueryError: syntax error at end of input", e.Error())

	mock.ExpectExec("SELECT 1").WillReturnError(errConnLost)

	err = h.Exec(ctx, "SELECT 1")
	assert.True(t, ErrorCodeIs(err, ErrorCodeConnection))
	assert.ErrorIs(t, err, errConnLost)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSerialized(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	h, b, mock := setup(t, nil)

	b.serialized = true

	expectExec(mock, "DELETE FROM groups")

	// the lock is released after each statement
	require.NoError(t, h.Exec(ctx, "DELETE FROM groups"))
	assert.True(t, serializedMu.TryLock())
	serializedMu.Unlock()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDialect(t *testing.T) {
	t.Parallel()

	h, _, _ := setup(t, nil)

	assert.Equal(t, "mock", h.Backend())
	assert.Equal(t, "$3", h.Placeholder(3))
	assert.Equal(t, "$2, $3, $4", h.Placeholders(2, 3))
	assert.Equal(t, "", h.Placeholders(1, 0))
	assert.Equal(t, " FOR UPDATE", h.ForUpdate())
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ConnectionError", ErrorCodeConnection.String())
	assert.Equal(t, "TransactionError", ErrorCodeTransaction.String())
	assert.Equal(t, "ErrorCode(42)", ErrorCode(42).String())

	assert.Panics(t, func() { NewError(0, nil) })

	assert.False(t, ErrorCodeIs(sql.ErrNoRows, ErrorCodeQuery))
	assert.True(t, ErrorCodeIs(NewError(ErrorCodeQuery, nil), ErrorCodeConnection, ErrorCodeQuery))
}
