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

// Package router maps request paths to handlers.
package router

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/clientconn"
)

// HandlerFunc handles a single request using the worker's database handle.
//
// It must answer the request exactly once.
type HandlerFunc func(ctx context.Context, req *clientconn.Request, h *backends.Handle)

// Router is a routing table.
//
// Routes are registered before workers start; matching is safe for concurrent use.
type Router struct {
	mux      *chi.Mux
	handlers map[string]HandlerFunc
}

// angleParam matches <name> path segments.
var angleParam = regexp.MustCompile(`<([^<>/]+)>`)

// New creates an empty routing table.
func New() *Router {
	return &Router{
		mux:      chi.NewMux(),
		handlers: map[string]HandlerFunc{},
	}
}

// Handle registers the handler for the given path pattern and all methods.
//
// Segments like <name> or {name} match any single path segment
// and are available to the handler as request parameters.
func (r *Router) Handle(pattern string, h HandlerFunc) {
	pattern = angleParam.ReplaceAllString(pattern, "{$1}")

	r.mux.Handle(pattern, http.NotFoundHandler())
	r.handlers[pattern] = h
}

// Match returns the handler for the request's path.
// On success, path parameters and the first value of each query parameter are stored in req.Params.
func (r *Router) Match(req *clientconn.Request) (HandlerFunc, bool) {
	path := req.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	rctx := chi.NewRouteContext()

	pattern := r.mux.Find(rctx, req.Method, path)
	if pattern == "" {
		return nil, false
	}

	h, ok := r.handlers[pattern]
	if !ok {
		return nil, false
	}

	// path parameters take precedence over query parameters with the same name
	for k, vs := range req.Query {
		if len(vs) > 0 {
			req.Params[k] = vs[0]
		}
	}

	for i, k := range rctx.URLParams.Keys {
		req.Params[k] = rctx.URLParams.Values[i]
	}

	return h, true
}
