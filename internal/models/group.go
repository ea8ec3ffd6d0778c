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

// Group represents a row of the "Group" table.
type Group struct {
	ID         int
	Name       string
	NumMembers int
}

// groupColumns is the list of selected "Group" columns in scanGroup order.
const groupColumns = `"id", "name", "num_members"`

// scanGroup converts the current row to Group.
func scanGroup(rows *backends.Rows) Group {
	return Group{
		ID:         rows.Int(0),
		Name:       rows.String(1),
		NumMembers: rows.Int(2),
	}
}

// CreateGroup inserts a new group and sets its ID.
func CreateGroup(ctx context.Context, h *backends.Handle, g *Group) error {
	q := fmt.Sprintf(
		`INSERT INTO "Group" ("name", "num_members") VALUES (%s) RETURNING "id"`,
		h.Placeholders(1, 2),
	)

	rows, err := h.QueryParams(ctx, q, g.Name, g.NumMembers)
	if err != nil {
		return err
	}

	defer rows.Close()

	if rows.Next() {
		g.ID = rows.Int(0)
	}

	return nil
}

// CreateGroups inserts all groups in a single transaction and sets their IDs.
func CreateGroups(ctx context.Context, h *backends.Handle, groups []Group) error {
	return h.InTransaction(ctx, func() error {
		for i := range groups {
			if err := CreateGroup(ctx, h, &groups[i]); err != nil {
				return err
			}
		}

		return nil
	})
}

// ReadGroup returns the group with the given ID, or ErrNotFound.
func ReadGroup(ctx context.Context, h *backends.Handle, id int) (*Group, error) {
	q := fmt.Sprintf(`SELECT %s FROM "Group" WHERE "id" = %s`, groupColumns, h.Placeholder(1))
	return queryOne(ctx, h, scanGroup, q, id)
}

// ReadGroupForUpdate is ReadGroup that also locks the row until the end of the current transaction,
// if the backend supports row locks.
//
// It should be called in a transaction.
func ReadGroupForUpdate(ctx context.Context, h *backends.Handle, id int) (*Group, error) {
	q := fmt.Sprintf(`SELECT %s FROM "Group" WHERE "id" = %s`, groupColumns, h.Placeholder(1))
	if fu := h.ForUpdate(); fu != "" {
		q += " " + fu
	}

	return queryOne(ctx, h, scanGroup, q, id)
}

// ReadGroups returns all groups ordered by ID.
func ReadGroups(ctx context.Context, h *backends.Handle) ([]Group, error) {
	q := fmt.Sprintf(`SELECT %s FROM "Group" ORDER BY "id"`, groupColumns)
	return queryAll(ctx, h, scanGroup, q)
}

// QueryGroups returns groups matching the WHERE clause.
//
// The clause must refer to params with placeholders returned by h.Placeholder.
func QueryGroups(ctx context.Context, h *backends.Handle, where string, params ...any) ([]Group, error) {
	q := fmt.Sprintf(`SELECT %s FROM "Group" WHERE %s ORDER BY "id"`, groupColumns, where)
	return queryAll(ctx, h, scanGroup, q, params...)
}

// UpdateGroup updates all fields of the group with the same ID.
func UpdateGroup(ctx context.Context, h *backends.Handle, g *Group) error {
	q := fmt.Sprintf(
		`UPDATE "Group" SET "name" = %s, "num_members" = %s WHERE "id" = %s`,
		h.Placeholder(1), h.Placeholder(2), h.Placeholder(3),
	)

	return h.ExecParams(ctx, q, g.Name, g.NumMembers, g.ID)
}

// UpdateGroups updates all groups in a single transaction.
func UpdateGroups(ctx context.Context, h *backends.Handle, groups []Group) error {
	return inTransaction(ctx, h, groups, func(g Group) error {
		return UpdateGroup(ctx, h, &g)
	})
}

// DeleteGroup deletes the group with the given ID.
func DeleteGroup(ctx context.Context, h *backends.Handle, id int) error {
	q := fmt.Sprintf(`DELETE FROM "Group" WHERE "id" = %s`, h.Placeholder(1))
	return h.ExecParams(ctx, q, id)
}

// DeleteGroups deletes all given groups in a single transaction.
func DeleteGroups(ctx context.Context, h *backends.Handle, groups []Group) error {
	return inTransaction(ctx, h, groups, func(g Group) error {
		return DeleteGroup(ctx, h, g.ID)
	})
}
