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
	"net/http"
	"strconv"
	"strings"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/models"
	"github.com/appserver/appserver/internal/templating"
)

// groupParams returns template parameters for the group.
func groupParams(g *models.Group) []templating.Param {
	return []templating.Param{
		{Key: "id", Value: templating.Int(g.ID)},
		{Key: "name", Value: templating.String(g.Name)},
		{Key: "num_members", Value: templating.Int(g.NumMembers)},
	}
}

// Groups lists all groups and creates groups submitted with the form.
func (h *Handler) Groups(ctx context.Context, req *clientconn.Request, db *backends.Handle) {
	switch req.Method {
	case http.MethodGet:
		h.listGroups(ctx, req, db)

	case http.MethodPost:
		h.createGroup(ctx, req, db)

	default:
		methodNotAllowed(req)
	}
}

// listGroups renders all groups.
func (h *Handler) listGroups(ctx context.Context, req *clientconn.Request, db *backends.Handle) {
	groups, err := models.ReadGroups(ctx, db)
	if err != nil {
		h.respondError(req, err)
		return
	}

	var sb strings.Builder
	for _, g := range groups {
		sb.WriteString(h.fragment("group_row.html", groupParams(&g)...))
	}

	h.Renderer.Respond(req, http.StatusOK, "groups.html",
		templating.Param{Key: "count", Value: templating.Int(len(groups))},
		templating.Param{Key: "rows", Value: templating.HTML(sb.String())},
	)
}

// createGroup creates the group from the submitted form.
func (h *Handler) createGroup(ctx context.Context, req *clientconn.Request, db *backends.Handle) {
	form, err := req.Form()
	if err != nil {
		_ = req.RespondString(http.StatusBadRequest, "", "<h1>400 Bad Request</h1>")
		return
	}

	g := &models.Group{Name: strings.TrimSpace(form.Get("name"))}

	g.NumMembers, err = formInt(form.Get("num_members"))
	if err != nil || g.Name == "" {
		_ = req.RespondString(http.StatusBadRequest, "", "<h1>400 Bad Request</h1>")
		return
	}

	if err = models.CreateGroup(ctx, db, g); err != nil {
		h.respondError(req, err)
		return
	}

	h.respondGroup(ctx, req, db, http.StatusCreated, g, "Group created successfully.")
}

// Group shows a single group with its members.
func (h *Handler) Group(ctx context.Context, req *clientconn.Request, db *backends.Handle) {
	id, err := strconv.Atoi(req.Param("id"))
	if err != nil {
		_ = req.RespondString(http.StatusNotFound, "", "<h1>404 Not Found</h1>")
		return
	}

	g, err := models.ReadGroup(ctx, db, id)
	if err != nil {
		h.respondError(req, err)
		return
	}

	h.respondGroup(ctx, req, db, http.StatusOK, g, "")
}

// respondGroup renders the group page with its members.
func (h *Handler) respondGroup(ctx context.Context, req *clientconn.Request, db *backends.Handle, status int, g *models.Group, result string) {
	members, err := models.QueryUsers(ctx, db, `"group_id" = `+db.Placeholder(1), g.ID)
	if err != nil {
		h.respondError(req, err)
		return
	}

	params := append(
		groupParams(g),
		templating.Param{Key: "result", Value: templating.String(result)},
		templating.Param{Key: "rows", Value: h.userRows(members)},
	)

	h.Renderer.Respond(req, status, "group.html", params...)
}
