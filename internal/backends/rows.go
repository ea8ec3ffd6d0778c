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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/appserver/appserver/internal/util/lazyerrors"
	"github.com/appserver/appserver/internal/util/resource"
)

// Rows is a cursor over the result of a query.
//
// All rows are fetched before Rows is returned,
// so the connection is free for other statements while Rows is open.
// Rows must be closed; Close is idempotent.
//
//nolint:vet // for readability
type Rows struct {
	columns []string
	data    [][]any
	pos     int
	closed  bool

	token *resource.Token
}

// readRows fetches all rows and closes sqlRows.
func readRows(sqlRows *sql.Rows) (*Rows, error) {
	defer sqlRows.Close()

	columns, err := sqlRows.Columns()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var data [][]any

	for sqlRows.Next() {
		row := make([]any, len(columns))
		dest := make([]any, len(columns))

		for i := range row {
			dest[i] = &row[i]
		}

		if err = sqlRows.Scan(dest...); err != nil {
			return nil, lazyerrors.Error(err)
		}

		// drivers may reuse byte slices
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}

		data = append(data, row)
	}

	if err = sqlRows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	rows := &Rows{
		columns: columns,
		data:    data,
		pos:     -1,
		token:   resource.NewToken(),
	}

	resource.Track(rows, rows.token)

	return rows, nil
}

// Close releases the cursor.
//
// It is safe to call it on nil or already closed Rows.
func (r *Rows) Close() {
	if r == nil || r.closed {
		return
	}

	resource.Untrack(r, r.token)

	r.closed = true
	r.data = nil
}

// Next advances to the next row; it returns false when there are no more rows.
func (r *Rows) Next() bool {
	if r == nil || r.pos >= len(r.data) {
		return false
	}

	r.pos++

	return r.pos < len(r.data)
}

// Columns returns column names.
func (r *Rows) Columns() []string {
	if r == nil {
		return nil
	}

	return r.columns
}

// value returns the value of the column in the current row, or nil.
func (r *Rows) value(col int) any {
	if r == nil || r.pos < 0 || r.pos >= len(r.data) {
		return nil
	}

	row := r.data[r.pos]
	if col < 0 || col >= len(row) {
		return nil
	}

	return row[col]
}

// IsNull returns true if the column value in the current row is NULL.
func (r *Rows) IsNull(col int) bool {
	return r.value(col) == nil
}

// Int returns the column value in the current row as int.
//
// NULL and values that can't be converted are returned as 0.
func (r *Rows) Int(col int) int {
	switch v := r.value(col).(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case bool:
		if v {
			return 1
		}

		return 0
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return int(i)
		}

		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}

		return 0
	default:
		return 0
	}
}

// Float returns the column value in the current row as float64.
//
// NULL and values that can't be converted are returned as 0.
func (r *Rows) Float(col int) float64 {
	switch v := r.value(col).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	default:
		return 0
	}
}

// String returns the column value in the current row as string.
//
// NULL is returned as an empty string.
func (r *Rows) String(col int) string {
	switch v := r.value(col).(type) {
	case nil:
		return ""
	case string:
		return strings.Clone(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
