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

	"github.com/appserver/appserver/internal/util/fsql"
)

// Backend is a strategy for one database engine.
//
// Exactly one implementation is selected at startup;
// code outside backend implementation packages does not depend on which one.
type Backend interface {
	// Name returns the backend name for logging and metrics.
	Name() string

	// Open returns a new *sql.DB for a single handle.
	Open(ctx context.Context) (*sql.DB, error)

	// Probe checks that the connection is alive.
	// Backends that may silently lose a socket perform a round trip there.
	Probe(ctx context.Context, conn *fsql.Conn) error

	// Placeholder returns a placeholder for the n-th (1-based) statement parameter.
	Placeholder(n int) string

	// ForUpdate returns a row-locking clause for SELECT statements, or an empty string.
	ForUpdate() string

	// Serialized returns true if raw statements of all handles must be executed
	// under a single process-wide lock.
	Serialized() bool

	// ClassifyError returns the error code for the driver error.
	// Zero means no opinion; ErrorCodeQuery is used then.
	ClassifyError(err error) ErrorCode
}
