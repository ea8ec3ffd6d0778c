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
	"errors"
	"fmt"
	"slices"
)

// ErrorCode represent a backend error code.
type ErrorCode int

// Error codes.
const (
	_ ErrorCode = iota

	ErrorCodeConnection  // ConnectionError
	ErrorCodeQuery       // QueryError
	ErrorCodeTransaction // TransactionError
)

// String implements [fmt.Stringer].
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeConnection:
		return "ConnectionError"
	case ErrorCodeQuery:
		return "QueryError"
	case ErrorCodeTransaction:
		return "TransactionError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error represents a backend error returned by Handle methods.
type Error struct {
	// driver error; may be nil
	err error

	// failed statement; may be empty
	query string

	code ErrorCode
}

// NewError creates a new backend error.
//
// Code must not be 0. Err may be nil.
func NewError(code ErrorCode, err error) *Error {
	if code == 0 {
		panic("backends.NewError: code must not be 0")
	}

	return &Error{
		code: code,
		err:  err,
	}
}

// newQueryError creates a new backend error for the failed statement.
func newQueryError(code ErrorCode, err error, query string) *Error {
	e := NewError(code, err)
	e.query = query

	return e
}

// Code returns the error code.
func (err *Error) Code() ErrorCode {
	return err.code
}

// Message returns the backend error text, or an empty string.
func (err *Error) Message() string {
	if err.err == nil {
		return ""
	}

	return err.err.Error()
}

// Query returns the failed statement, or an empty string.
func (err *Error) Query() string {
	return err.query
}

// Error implements error interface.
func (err *Error) Error() string {
	return fmt.Sprintf("%s: %v", err.code, err.err)
}

// Unwrap returns the driver error.
func (err *Error) Unwrap() error {
	return err.err
}

// ErrorCodeIs returns true if err is or wraps *Error with one of the given error codes.
func ErrorCodeIs(err error, code ErrorCode, codes ...ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.code == code || slices.Contains(codes, e.code)
}
