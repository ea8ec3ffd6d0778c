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


// Package handler provides the application's request handlers.
package handler

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/models"
	"github.com/appserver/appserver/internal/router"
	"github.com/appserver/appserver/internal/templating"
	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// route represents a handler for a single path pattern.
type route struct {
	Handler router.HandlerFunc

	// Help is shown on the home page.
	// If empty, that route is hidden, but still can be used.
	Help string
}

// Handler handles application requests.
//
// Handler instance is shared between all workers;
// each call gets the calling worker's database handle.
type Handler struct {
	*NewOpts

	routes map[string]*route
}

// NewOpts represents handler configuration.
type NewOpts struct {
	Renderer *templating.Renderer
	L        *zap.Logger

	// MaxSleep limits /sleep and /lock durations in seconds; DefaultMaxSleep if zero.
	MaxSleep int
}

// DefaultMaxSleep is the default limit of /sleep and /lock durations in seconds.
const DefaultMaxSleep = 60

// New returns a new handler.
func New(opts *NewOpts) *Handler {
	if opts.MaxSleep == 0 {
		opts.MaxSleep = DefaultMaxSleep
	}

	h := &Handler{
		NewOpts: opts,
	}

	h.initRoutes()

	return h
}

// initRoutes initializes the routes map for that handler instance.
func (h *Handler) initRoutes() {
	h.routes = map[string]*route{
		// sorted alphabetically
		"/": {
			Handler: h.Home,
			Help:    "This page.",
		},
		"/groups": {
			Handler: h.Groups,
			Help:    "Lists groups; POST creates a group.",
		},
		"/groups/<id>": {
			Handler: h.Group,
			Help:    "Shows a group with its members.",
		},
		"/lock/<id>": {
			Handler: h.Lock,
			Help:    "Increments group members while holding the row lock for ?hold=N seconds.",
		},
		"/sleep/<seconds>": {
			Handler: h.Sleep,
			Help:    "Occupies a worker for the given number of seconds.",
		},
		"/users": {
			Handler: h.Users,
			Help:    "Lists users.",
		},
		"/users/<DNI>": {
			Handler: h.User,
			Help:    "Shows a user.",
		},
		"/users/create": {
			Handler: h.CreateUser,
			Help:    "Shows the form; POST creates a user.",
		},
	}
}

// Register adds all routes to the routing table.
func (h *Handler) Register(r *router.Router) {
	for pattern, route := range h.routes {
		r.Handle(pattern, route.Handler)
	}
}

// Home renders the home page.
func (h *Handler) Home(_ context.Context, req *clientconn.Request, db *backends.Handle) {
	paths := make([]string, 0, len(h.routes))

	for path, r := range h.routes {
		if r.Help != "" {
			paths = append(paths, path)
		}
	}

	slices.Sort(paths)

	rows := make([]string, len(paths))
	for i, path := range paths {
		rows[i] = h.fragment("route_row.html",
			templating.Param{Key: "path", Value: templating.String(path)},
			templating.Param{Key: "help", Value: templating.String(h.routes[path].Help)},
		)
	}

	h.Renderer.Respond(req, http.StatusOK, "home.html",
		templating.Param{Key: "backend", Value: templating.String(db.Backend())},
		templating.Param{Key: "routes", Value: templating.HTML(strings.Join(rows, ""))},
	)
}

// fragment renders a template used as a part of another one.
// Errors are logged and result in an empty string.
func (h *Handler) fragment(name string, params ...templating.Param) string {
	s, err := h.Renderer.Render(name, params...)
	if err != nil {
		h.L.Error("Failed to render fragment", zap.String("template", name), zap.Error(err))
		return ""
	}

	return s
}

// respondError answers the request according to the error returned by models or handle.
func (h *Handler) respondError(req *clientconn.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		_ = req.RespondString(http.StatusNotFound, "", "<h1>404 Not Found</h1>")

	case backends.ErrorCodeIs(err, backends.ErrorCodeConnection):
		_ = req.RespondString(http.StatusServiceUnavailable, "", "<h1>503 Service Unavailable</h1>")

	default:
		h.L.Error(
			"Request failed",
			zap.String("request", req.ID),
			zap.Error(err),
			zap.NamedError("cause", lazyerrors.UnwrapAll(err)),
		)
		_ = req.RespondString(http.StatusInternalServerError, "", "<h1>500 Internal Server Error</h1>")
	}
}

// methodNotAllowed answers the request with 405.
func methodNotAllowed(req *clientconn.Request) {
	_ = req.RespondString(http.StatusMethodNotAllowed, "", "<h1>405 Method Not Allowed</h1>")
}
