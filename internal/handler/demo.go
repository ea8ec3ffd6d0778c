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
	"time"

	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/backends"
	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/models"
	"github.com/appserver/appserver/internal/templating"
	"github.com/appserver/appserver/internal/util/ctxutil"
)

// seconds parses a duration in whole seconds limited by MaxSleep.
func (h *Handler) seconds(s string) (time.Duration, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > h.MaxSleep {
		return 0, false
	}

	return time.Duration(n) * time.Second, true
}

// Sleep occupies the worker for the given number of seconds.
func (h *Handler) Sleep(ctx context.Context, req *clientconn.Request, _ *backends.Handle) {
	d, ok := h.seconds(req.Param("seconds"))
	if !ok {
		_ = req.RespondString(http.StatusBadRequest, "", "<h1>400 Bad Request</h1>")
		return
	}

	start := time.Now()
	ctxutil.Sleep(ctx, d)

	h.Renderer.Respond(req, http.StatusOK, "sleep.html",
		templating.Param{Key: "seconds", Value: templating.Int(int(d / time.Second))},
		templating.Param{Key: "elapsed", Value: templating.String(time.Since(start).Round(time.Millisecond).String())},
	)
}

// Lock reads the group with a row lock, holds it for ?hold=N seconds (1 by default),
// then increments the number of members and commits.
//
// Concurrent requests for the same group are serialized by the backend.
func (h *Handler) Lock(ctx context.Context, req *clientconn.Request, db *backends.Handle) {
	id, err := strconv.Atoi(req.Param("id"))
	if err != nil {
		_ = req.RespondString(http.StatusNotFound, "", "<h1>404 Not Found</h1>")
		return
	}

	hold := time.Second

	if s := req.Param("hold"); s != "" {
		var ok bool
		if hold, ok = h.seconds(s); !ok {
			_ = req.RespondString(http.StatusBadRequest, "", "<h1>400 Bad Request</h1>")
			return
		}
	}

	var g *models.Group

	start := time.Now()

	err = db.InTransaction(ctx, func() error {
		var e error
		if g, e = models.ReadGroupForUpdate(ctx, db, id); e != nil {
			return e
		}

		h.L.Debug("Row locked", zap.Int("id", id), zap.Duration("wait", time.Since(start)))

		ctxutil.Sleep(ctx, hold)

		g.NumMembers++

		return models.UpdateGroup(ctx, db, g)
	})
	if err != nil {
		h.respondError(req, err)
		return
	}

	result := "Held the lock for " + hold.String() + ", waited " + time.Since(start).Round(time.Millisecond).String() + " in total."
	h.respondGroup(ctx, req, db, http.StatusOK, g, result)
}
