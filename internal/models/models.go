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


// Package models provides CRUD operations for application tables.
//
// All statements bind values as parameters and work with any backend.
package models

import (
	"context"
	"errors"

	"github.com/appserver/appserver/internal/backends"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// scanFunc converts the current row to a value.
type scanFunc[T any] func(rows *backends.Rows) T

// queryAll runs the query and returns all rows converted by scan.
func queryAll[T any](ctx context.Context, h *backends.Handle, scan scanFunc[T], q string, params ...any) ([]T, error) {
	rows, err := h.QueryParams(ctx, q, params...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var res []T
	for rows.Next() {
		res = append(res, scan(rows))
	}

	return res, nil
}

// queryOne runs the query and returns the first row converted by scan, or ErrNotFound.
func queryOne[T any](ctx context.Context, h *backends.Handle, scan scanFunc[T], q string, params ...any) (*T, error) {
	rows, err := h.QueryParams(ctx, q, params...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	v := scan(rows)

	return &v, nil
}

// inTransaction calls f for each item in a single transaction.
func inTransaction[T any](ctx context.Context, h *backends.Handle, items []T, f func(T) error) error {
	return h.InTransaction(ctx, func() error {
		for _, item := range items {
			if err := f(item); err != nil {
				return err
			}
		}

		return nil
	})
}

// nullInt returns nil for zero values so that they are stored as NULL.
func nullInt(v int) any {
	if v == 0 {
		return nil
	}

	return v
}
