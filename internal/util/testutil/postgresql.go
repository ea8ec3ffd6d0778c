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

package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

// PostgreSQLURLEnv is the environment variable with the base PostgreSQL URL for tests.
const PostgreSQLURLEnv = "APPSERVER_TEST_POSTGRESQL_URL"

// nonIdentRE matches characters not allowed in generated database names.
var nonIdentRE = regexp.MustCompile(`[^a-z0-9_]+`)

// DatabaseName returns a stable database name for the test.
func DatabaseName(tb testing.TB) string {
	tb.Helper()

	name := nonIdentRE.ReplaceAllString(strings.ToLower(tb.Name()), "_")
	if len(name) > 60 {
		name = name[len(name)-60:]
	}

	return "t_" + strings.Trim(name, "_")
}

// PostgreSQLURL creates a new database for the test and returns its URL.
//
// The test is skipped in -short mode or when [PostgreSQLURLEnv] is not set.
// The database is dropped after the test unless it failed.
func PostgreSQLURL(tb testing.TB) string {
	tb.Helper()

	if testing.Short() {
		tb.Skip("skipping in -short mode")
	}

	baseURL := os.Getenv(PostgreSQLURLEnv)
	if baseURL == "" {
		tb.Skipf("%s is not set", PostgreSQLURLEnv)
	}

	u, err := url.Parse(baseURL)
	require.NoError(tb, err)

	name := DatabaseName(tb)
	u.Path = name

	ctx := context.Background()

	conn, err := pgx.Connect(ctx, baseURL)
	require.NoError(tb, err)

	q := fmt.Sprintf("DROP DATABASE IF EXISTS %s", pgx.Identifier{name}.Sanitize())
	_, err = conn.Exec(ctx, q)
	require.NoError(tb, err)

	q = fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{name}.Sanitize())
	_, err = conn.Exec(ctx, q)
	require.NoError(tb, err)

	tb.Cleanup(func() {
		defer conn.Close(ctx)

		if tb.Failed() {
			tb.Logf("Keeping database %s (%s) for debugging.", name, u.Redacted())
			return
		}

		q := fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", pgx.Identifier{name}.Sanitize())
		_, err := conn.Exec(ctx, q)
		require.NoError(tb, err)
	})

	return u.String()
}
