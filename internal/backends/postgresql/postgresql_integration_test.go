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

package postgresql

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/util/testutil"
)

// setup creates a new database and returns a backend for it.
func setup(t *testing.T) backends.Backend {
	t.Helper()

	b, err := NewFromURL(testutil.PostgreSQLURL(t), testutil.Logger(t))
	require.NoError(t, err)

	return b
}

// open opens a handle that is closed after the test.
func open(t *testing.T, b backends.Backend) *backends.Handle {
	t.Helper()

	h, err := backends.Open(testutil.Ctx(t), b, testutil.Logger(t))
	require.NoError(t, err)

	t.Cleanup(h.Close)

	return h
}

func TestHandle(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b := setup(t)
	h := open(t, b)

	assert.True(t, h.Health(ctx))

	require.NoError(t, h.Exec(ctx, "CREATE TABLE users (dni TEXT PRIMARY KEY, name TEXT, age INTEGER, score DOUBLE PRECISION)"))

	t.Run("Injection", func(t *testing.T) {
		value := "'); DROP TABLE users; --"

		q := "INSERT INTO users (dni, name, age, score) VALUES (" + h.Placeholders(1, 4) + ")"
		require.NoError(t, h.ExecParams(ctx, q, "1", value, 30, 1.5))

		rows, err := h.QueryParams(ctx, "SELECT name, age, score FROM users WHERE dni = "+h.Placeholder(1), "1")
		require.NoError(t, err)

		defer rows.Close()

		require.True(t, rows.Next())
		assert.Equal(t, value, rows.String(0))
		assert.Equal(t, 30, rows.Int(1))
		assert.Equal(t, 1.5, rows.Float(2))
		assert.False(t, rows.Next())

		rows2, err := h.Query(ctx, "SELECT count(*) FROM users")
		require.NoError(t, err)

		defer rows2.Close()

		require.True(t, rows2.Next())
		assert.Equal(t, 1, rows2.Int(0))
	})

	t.Run("Savepoints", func(t *testing.T) {
		require.NoError(t, h.Begin(ctx))
		require.NoError(t, h.ExecParams(ctx, "INSERT INTO users (dni) VALUES ($1)", "2"))
		require.NoError(t, h.Begin(ctx))
		require.NoError(t, h.ExecParams(ctx, "INSERT INTO users (dni) VALUES ($1)", "3"))
		require.NoError(t, h.Rollback(ctx))
		require.NoError(t, h.Commit(ctx))

		rows, err := h.Query(ctx, "SELECT dni FROM users WHERE dni IN ('2', '3')")
		require.NoError(t, err)

		defer rows.Close()

		require.True(t, rows.Next())
		assert.Equal(t, "2", rows.String(0))
		assert.False(t, rows.Next())
	})

	t.Run("QueryError", func(t *testing.T) {
		err := h.ExecParams(ctx, "INSERT INTO users (dni) VALUES ($1)", "2")
		assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeQuery))

		assert.True(t, h.Health(ctx))
	})
}

func TestRowLockBlocks(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b := setup(t)

	a := open(t, b)
	c := open(t, b)

	require.NoError(t, a.Exec(ctx, "CREATE TABLE groups (id INTEGER PRIMARY KEY, name TEXT)"))
	require.NoError(t, a.Exec(ctx, "INSERT INTO groups (id, name) VALUES (1, 'admins')"))

	lock := "SELECT name FROM groups WHERE id = " + a.Placeholder(1) + a.ForUpdate()

	require.NoError(t, a.Begin(ctx))

	rows, err := a.QueryParams(ctx, lock, 1)
	require.NoError(t, err)
	rows.Close()

	var wg sync.WaitGroup
	locked := make(chan time.Time, 1)

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := c.Begin(ctx); err != nil {
			t.Error(err)
			return
		}

		rows, err := c.QueryParams(ctx, lock, 1)
		if err != nil {
			t.Error(err)
			return
		}

		rows.Close()
		locked <- time.Now()

		if err := c.Commit(ctx); err != nil {
			t.Error(err)
		}
	}()

	select {
	case <-locked:
		t.Fatal("second lock did not block")
	case <-time.After(500 * time.Millisecond):
	}

	committed := time.Now()
	require.NoError(t, a.Commit(ctx))

	wg.Wait()

	assert.False(t, (<-locked).Before(committed))
}

func TestHealthAfterTermination(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b := setup(t)

	victim := open(t, b)
	killer := open(t, b)

	rows, err := victim.Query(ctx, "SELECT pg_backend_pid()")
	require.NoError(t, err)
	require.True(t, rows.Next())
	pid := rows.Int(0)
	rows.Close()

	require.NoError(t, killer.ExecParams(context.Background(), "SELECT pg_terminate_backend($1)", pid))

	assert.Eventually(t, func() bool { return !victim.Health(ctx) }, 5*time.Second, 100*time.Millisecond)

	victim.Close()

	reopened := open(t, b)
	assert.True(t, reopened.Health(ctx))
}
