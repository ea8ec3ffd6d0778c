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
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// errNoTransaction is returned by Commit and Rollback at depth 0.
var errNoTransaction = errors.New("no open transaction")

// savepoint returns the name of the savepoint created at the given depth.
func savepoint(depth int) string {
	return "sp_" + strconv.Itoa(depth)
}

// Depth returns the current transaction depth; 0 means no open transaction.
func (h *Handle) Depth() int {
	if h == nil {
		return 0
	}

	return h.depth
}

// Begin starts a transaction at depth 0 or creates a savepoint otherwise.
//
// On failure the depth is left unchanged.
func (h *Handle) Begin(ctx context.Context) error {
	if h == nil || h.conn == nil {
		return NewError(ErrorCodeConnection, errClosed)
	}

	q := "BEGIN"
	if h.depth > 0 {
		q = "SAVEPOINT " + savepoint(h.depth)
	}

	if err := h.Exec(ctx, q); err != nil {
		return err
	}

	h.depth++

	return nil
}

// Commit commits the transaction at depth 1 or releases the innermost savepoint otherwise.
//
// At depth 0 it returns *Error with ErrorCodeTransaction and executes nothing.
func (h *Handle) Commit(ctx context.Context) error {
	return h.end(ctx, "COMMIT", "RELEASE SAVEPOINT ")
}

// Rollback aborts the transaction at depth 1 or rolls back to the innermost savepoint otherwise.
//
// At depth 0 it returns *Error with ErrorCodeTransaction and executes nothing.
func (h *Handle) Rollback(ctx context.Context) error {
	return h.end(ctx, "ROLLBACK", "ROLLBACK TO SAVEPOINT ")
}

// end implements Commit and Rollback.
func (h *Handle) end(ctx context.Context, outer, nested string) error {
	if h == nil || h.conn == nil {
		return NewError(ErrorCodeConnection, errClosed)
	}

	if h.depth == 0 {
		h.l.Warn("Transaction end without open transaction", zap.String("statement", outer))
		return NewError(ErrorCodeTransaction, errNoTransaction)
	}

	h.depth--

	q := outer
	if h.depth > 0 {
		q = nested + savepoint(h.depth)
	}

	err := h.Exec(ctx, q)
	if err != nil && h.depth == 0 {
		h.abort(ctx, q)
	}

	return err
}

// abort closes the transaction on the connection after the outermost statement failed.
//
// A failed COMMIT (for example, SQLITE_BUSY) may leave the transaction open while depth is already 0.
// If it can't be rolled back, the handle is marked broken so that Health reports false.
func (h *Handle) abort(ctx context.Context, failed string) {
	if failed != "ROLLBACK" {
		if err := h.Exec(ctx, "ROLLBACK"); err == nil {
			return
		}
	}

	h.l.Warn("Transaction state is unknown, handle is broken", zap.String("statement", failed))
	h.broken = true
}

// InTransaction wraps the given function f in a transaction (or a savepoint, if one is already open).
//
// If f returns an error or panics, the transaction is rolled back.
func (h *Handle) InTransaction(ctx context.Context, f func() error) (err error) {
	if err = h.Begin(ctx); err != nil {
		return
	}

	var done bool

	defer func() {
		// f may call runtime.Goexit (e.g. via t.FailNow) or panic, leaving err unset
		if done {
			return
		}

		if err == nil {
			err = lazyerrors.New("transaction was not committed")
		}

		_ = h.Rollback(ctx)
	}()

	if err = f(); err != nil {
		// do not wrap f's error because the caller depends on it in some cases
		return
	}

	done = true

	return h.Commit(ctx)
}

// Reset aborts any open transaction, including all savepoints, and sets depth to 0.
//
// It does nothing at depth 0.
func (h *Handle) Reset(ctx context.Context) error {
	if h.Depth() == 0 {
		return nil
	}

	h.l.Warn("Rolling back unfinished transaction", zap.Int("depth", h.depth))

	h.depth = 0

	if err := h.Exec(ctx, "ROLLBACK"); err != nil {
		h.broken = true
		return err
	}

	return nil
}
