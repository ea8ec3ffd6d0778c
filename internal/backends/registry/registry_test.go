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

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appserver/appserver/internal/backends/postgresql"
	"github.com/appserver/appserver/internal/backends/sqlite"
	"github.com/appserver/appserver/internal/util/testutil"
)

func TestNewBackend(t *testing.T) {
	t.Parallel()

	l := testutil.Logger(t)

	b, err := NewBackend(&Config{}, l)
	require.NoError(t, err)
	assert.Equal(t, sqlite.Name, b.Name())

	b, err = NewBackend(&Config{Backend: SQLite, SQLitePath: testutil.SQLitePath(t)}, l)
	require.NoError(t, err)
	assert.Equal(t, sqlite.Name, b.Name())

	b, err = NewBackend(&Config{
		Backend:    Postgres,
		PostgreSQL: postgresql.Config{Host: "127.0.0.1", DBName: "appdb", User: "appuser"},
	}, l)
	require.NoError(t, err)
	assert.Equal(t, postgresql.Name, b.Name())

	_, err = NewBackend(&Config{Backend: Postgres}, l)
	require.Error(t, err, "PostgreSQL host is required")

	_, err = NewBackend(&Config{Backend: "mysql"}, l)
	require.EqualError(t, err, `unknown backend "mysql", expected "postgres" or "sqlite"`)
}
