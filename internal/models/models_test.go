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


package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/backends/postgresql"
	"github.com/appserver/appserver/internal/backends/sqlite"
	"github.com/appserver/appserver/internal/schema"
	"github.com/appserver/appserver/internal/util/testutil"
)

// backendFunc returns a backend with an empty database.
type backendFunc func(t *testing.T) backends.Backend

// testBackends returns backends to test.
// PostgreSQL is skipped unless configured.
func testBackends() map[string]backendFunc {
	return map[string]backendFunc{
		"SQLite": func(t *testing.T) backends.Backend {
			return sqlite.New(testutil.SQLitePath(t), testutil.Logger(t))
		},
		"PostgreSQL": func(t *testing.T) backends.Backend {
			b, err := postgresql.NewFromURL(testutil.PostgreSQLURL(t), testutil.Logger(t))
			require.NoError(t, err)

			return b
		},
	}
}

// setup returns an open handle to a migrated database.
func setup(t *testing.T, newBackend backendFunc) *backends.Handle {
	t.Helper()

	ctx := testutil.Ctx(t)
	l := testutil.Logger(t)
	b := newBackend(t)

	require.NoError(t, schema.Migrate(ctx, b, l))

	h, err := backends.Open(ctx, b, l)
	require.NoError(t, err)

	t.Cleanup(h.Close)

	return h
}

func TestUsers(t *testing.T) {
	t.Parallel()

	for name, newBackend := range testBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := testutil.Ctx(t)
			h := setup(t, newBackend)

			g := &Group{Name: "admins", NumMembers: 2}
			require.NoError(t, CreateGroup(ctx, h, g))
			require.NotZero(t, g.ID)

			ann := User{DNI: "1", Name: "Ann", Age: 30, Email: "ann@example.com", GroupID: g.ID}
			require.NoError(t, CreateUser(ctx, h, &ann))

			bob := User{DNI: "2", Name: "Bob", Age: 25}
			require.NoError(t, CreateUser(ctx, h, &bob))

			u, err := ReadUser(ctx, h, "1")
			require.NoError(t, err)
			assert.Equal(t, ann, *u)

			_, err = ReadUser(ctx, h, "3")
			assert.ErrorIs(t, err, ErrNotFound)

			users, err := ReadUsers(ctx, h)
			require.NoError(t, err)
			assert.Equal(t, []User{ann, bob}, users)

			users, err = QueryUsers(ctx, h, `"age" > `+h.Placeholder(1), 26)
			require.NoError(t, err)
			assert.Equal(t, []User{ann}, users)

			bob.Age = 26
			bob.GroupID = g.ID
			require.NoError(t, UpdateUser(ctx, h, &bob))

			u, err = ReadUser(ctx, h, "2")
			require.NoError(t, err)
			assert.Equal(t, bob, *u)

			require.NoError(t, DeleteUser(ctx, h, "1"))

			users, err = ReadUsers(ctx, h)
			require.NoError(t, err)
			assert.Equal(t, []User{bob}, users)

			// unknown group violates the foreign key
			err = CreateUser(ctx, h, &User{DNI: "3", Name: "Eve", GroupID: g.ID + 100})
			assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeQuery), "%v", err)
		})
	}
}

func TestUsersInTransaction(t *testing.T) {
	t.Parallel()

	for name, newBackend := range testBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := testutil.Ctx(t)
			h := setup(t, newBackend)

			batch := []User{
				{DNI: "a", Name: "A"},
				{DNI: "b", Name: "B"},
				{DNI: "a", Name: "duplicate"},
			}

			// all or nothing
			err := CreateUsers(ctx, h, batch)
			assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeQuery), "%v", err)
			assert.Zero(t, h.Depth())

			users, err := ReadUsers(ctx, h)
			require.NoError(t, err)
			assert.Empty(t, users)

			batch = batch[:2]
			require.NoError(t, CreateUsers(ctx, h, batch))

			batch[0].Age = 10
			batch[1].Age = 20
			require.NoError(t, UpdateUsers(ctx, h, batch))

			users, err = ReadUsers(ctx, h)
			require.NoError(t, err)
			assert.Equal(t, batch, users)

			require.NoError(t, DeleteUsers(ctx, h, users))

			users, err = ReadUsers(ctx, h)
			require.NoError(t, err)
			assert.Empty(t, users)
			assert.Zero(t, h.Depth())
		})
	}
}

func TestGroups(t *testing.T) {
	t.Parallel()

	for name, newBackend := range testBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := testutil.Ctx(t)
			h := setup(t, newBackend)

			groups := make([]Group, 10)
			for i := range groups {
				groups[i] = Group{Name: "batch", NumMembers: i * 5}
			}

			require.NoError(t, CreateGroups(ctx, h, groups))

			for i, g := range groups {
				assert.NotZero(t, g.ID)

				if i > 0 {
					assert.Greater(t, g.ID, groups[i-1].ID)
				}
			}

			res, err := QueryGroups(ctx, h, `"name" = `+h.Placeholder(1), "batch")
			require.NoError(t, err)
			assert.Equal(t, groups, res)

			// last writer wins
			a, err := ReadGroup(ctx, h, groups[0].ID)
			require.NoError(t, err)

			b, err := ReadGroup(ctx, h, groups[0].ID)
			require.NoError(t, err)

			a.NumMembers += 5
			b.NumMembers += 20

			require.NoError(t, UpdateGroup(ctx, h, a))
			require.NoError(t, UpdateGroup(ctx, h, b))

			err = h.InTransaction(ctx, func() error {
				g, err := ReadGroupForUpdate(ctx, h, groups[0].ID)
				require.NoError(t, err)
				assert.Equal(t, 20, g.NumMembers)

				return nil
			})
			require.NoError(t, err)

			require.NoError(t, DeleteGroups(ctx, h, res))

			res, err = ReadGroups(ctx, h)
			require.NoError(t, err)
			assert.Empty(t, res)

			_, err = ReadGroup(ctx, h, groups[0].ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestInjection(t *testing.T) {
	t.Parallel()

	for name, newBackend := range testBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := testutil.Ctx(t)
			h := setup(t, newBackend)

			evil := `'); DROP TABLE "User"; --`

			u := User{DNI: evil, Name: evil, Email: `" OR 1=1 --`}
			require.NoError(t, CreateUser(ctx, h, &u))

			res, err := ReadUser(ctx, h, evil)
			require.NoError(t, err)
			assert.Equal(t, u, *res)

			users, err := ReadUsers(ctx, h)
			require.NoError(t, err)
			assert.Equal(t, []User{u}, users)
		})
	}
}
