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


package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/models"
	"github.com/appserver/appserver/internal/templating"
)

// userParams returns template parameters for the user.
func userParams(u *models.User) []templating.Param {
	return []templating.Param{
		{Key: "DNI", Value: templating.String(u.DNI)},
		{Key: "name", Value: templating.String(u.Name)},
		{Key: "age", Value: templating.Int(u.Age)},
		{Key: "email", Value: templating.String(u.Email)},
		{Key: "group_id", Value: templating.Int(u.GroupID)},
	}
}

// userRows renders table rows for users.
func (h *Handler) userRows(users []models.User) templating.Value {
	var sb strings.Builder

	for _, u := range users {
		sb.WriteString(h.fragment("user_row.html", userParams(&u)...))
	}

	return templating.HTML(sb.String())
}

// Users lists all users.
func (h *Handler) Users(ctx context.Context, req *clientconn.Request, db *backends.Handle) {
	users, err := models.ReadUsers(ctx, db)
	if err != nil {
		h.respondError(req, err)
		return
	}

	h.Renderer.Respond(req, http.StatusOK, "users.html",
		templating.Param{Key: "count", Value: templating.Int(len(users))},
		templating.Param{Key: "rows", Value: h.userRows(users)},
	)
}

// User shows a single user.
func (h *Handler) User(ctx context.Context, req *clientconn.Request, db *backends.Handle) {
	u, err := models.ReadUser(ctx, db, req.Param("DNI"))
	if err != nil {
		h.respondError(req, err)
		return
	}

	params := append(userParams(u), templating.Param{Key: "result", Value: templating.String("")})
	h.Renderer.Respond(req, http.StatusOK, "user.html", params...)
}

// errInvalidForm is returned for form values that can't be used.
var errInvalidForm = errors.New("invalid form")

// parseUser returns the user from the submitted form.
func parseUser(req *clientconn.Request) (*models.User, error) {
	form, err := req.Form()
	if err != nil {
		return nil, errInvalidForm
	}

	u := &models.User{
		DNI:   strings.TrimSpace(form.Get("dni")),
		Name:  strings.TrimSpace(form.Get("name")),
		Email: strings.TrimSpace(form.Get("email")),
	}

	if u.DNI == "" || u.Name == "" {
		return nil, errInvalidForm
	}

	if u.Age, err = formInt(form.Get("age")); err != nil {
		return nil, err
	}

	if u.GroupID, err = formInt(form.Get("group_id")); err != nil {
		return nil, err
	}

	return u, nil
}

// formInt parses an optional non-negative integer form value.
func formInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, errInvalidForm
	}

	return i, nil
}

// CreateUser shows the user form and creates users submitted with it.
func (h *Handler) CreateUser(ctx context.Context, req *clientconn.Request, db *backends.Handle) {
	result := func(s string) templating.Param {
		return templating.Param{Key: "result", Value: templating.String(s)}
	}

	switch req.Method {
	case http.MethodGet:
		h.Renderer.Respond(req, http.StatusOK, "user_form.html", result(""))
		return

	case http.MethodPost:
	default:
		methodNotAllowed(req)
		return
	}

	u, err := parseUser(req)
	if err != nil {
		h.Renderer.Respond(req, http.StatusBadRequest, "user_form.html", result("DNI and name are required; age and group must be numbers."))
		return
	}

	if err = models.CreateUser(ctx, db, u); err != nil {
		if backends.ErrorCodeIs(err, backends.ErrorCodeQuery) {
			h.Renderer.Respond(req, http.StatusBadRequest, "user_form.html", result("Failed to create user."))
			return
		}

		h.respondError(req, err)

		return
	}

	created, err := models.ReadUser(ctx, db, u.DNI)
	if err != nil {
		h.respondError(req, err)
		return
	}

	params := append(userParams(created), result("User created successfully."))
	h.Renderer.Respond(req, http.StatusCreated, "user.html", params...)
}
