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
	"context"
	"fmt"

	"github.com/appserver/appserver/internal/backends"
)

// User represents a row of the "User" table.
type User struct {
	DNI     string
	Name    string
	Age     int
	Email   string
	GroupID int // 0 means no group
}

// userColumns is the list of selected "User" columns in scanUser order.
const userColumns = `"DNI", "name", "age", "email", "group_id"`

// scanUser converts the current row to User.
func scanUser(rows *backends.Rows) User {
	return User{
		DNI:     rows.String(0),
		Name:    rows.String(1),
		Age:     rows.Int(2),
		Email:   rows.String(3),
		GroupID: rows.Int(4),
	}
}

// CreateUser inserts a new user.
func CreateUser(ctx context.Context, h *backends.Handle, u *User) error {
	q := fmt.Sprintf(`INSERT INTO "User" (%s) VALUES (%s)`, userColumns, h.Placeholders(1, 5))
	return h.ExecParams(ctx, q, u.DNI, u.Name, u.Age, u.Email, nullInt(u.GroupID))
}

// CreateUsers inserts all users in a single transaction.
func CreateUsers(ctx context.Context, h *backends.Handle, users []User) error {
	return inTransaction(ctx, h, users, func(u User) error {
		return CreateUser(ctx, h, &u)
	})
}

// ReadUser returns the user with the given DNI, or ErrNotFound.
func ReadUser(ctx context.Context, h *backends.Handle, dni string) (*User, error) {
	q := fmt.Sprintf(`SELECT %s FROM "User" WHERE "DNI" = %s`, userColumns, h.Placeholder(1))
	return queryOne(ctx, h, scanUser, q, dni)
}

// ReadUsers returns all users ordered by DNI.
func ReadUsers(ctx context.Context, h *backends.Handle) ([]User, error) {
	q := fmt.Sprintf(`SELECT %s FROM "User" ORDER BY "DNI"`, userColumns)
	return queryAll(ctx, h, scanUser, q)
}

// QueryUsers returns users matching the WHERE clause.
//
// The clause must refer to params with placeholders returned by h.Placeholder.
func QueryUsers(ctx context.Context, h *backends.Handle, where string, params ...any) ([]User, error) {
	q := fmt.Sprintf(`SELECT %s FROM "User" WHERE %s ORDER BY "DNI"`, userColumns, where)
	return queryAll(ctx, h, scanUser, q, params...)
}

// UpdateUser updates all fields of the user with the same DNI.
func UpdateUser(ctx context.Context, h *backends.Handle, u *User) error {
	q := fmt.Sprintf(
		`UPDATE "User" SET "name" = %s, "age" = %s, "email" = %s, "group_id" = %s WHERE "DNI" = %s`,
		h.Placeholder(1), h.Placeholder(2), h.Placeholder(3), h.Placeholder(4), h.Placeholder(5),
	)

	return h.ExecParams(ctx, q, u.Name, u.Age, u.Email, nullInt(u.GroupID), u.DNI)
}

// UpdateUsers updates all users in a single transaction.
func UpdateUsers(ctx context.Context, h *backends.Handle, users []User) error {
	return inTransaction(ctx, h, users, func(u User) error {
		return UpdateUser(ctx, h, &u)
	})
}

// DeleteUser deletes the user with the given DNI.
func DeleteUser(ctx context.Context, h *backends.Handle, dni string) error {
	q := fmt.Sprintf(`DELETE FROM "User" WHERE "DNI" = %s`, h.Placeholder(1))
	return h.ExecParams(ctx, q, dni)
}

// DeleteUsers deletes all given users in a single transaction.
func DeleteUsers(ctx context.Context, h *backends.Handle, users []User) error {
	return inTransaction(ctx, h, users, func(u User) error {
		return DeleteUser(ctx, h, u.DNI)
	})
}
