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


// Package templating renders HTML templates with {{key}} placeholders.
package templating

import (
	"errors"
	"html"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// Value is a template parameter value of an explicit type.
//
// The zero value renders as an empty string.
type Value struct {
	s   string
	raw bool
}

// String returns a string value.
func String(s string) Value {
	return Value{s: s}
}

// Int returns an integer value.
func Int(i int) Value {
	return Value{s: strconv.Itoa(i)}
}

// Float returns a float value rendered with two decimal places.
func Float(f float64) Value {
	return Value{s: strconv.FormatFloat(f, 'f', 2, 64)}
}

// HTML returns a value with trusted markup that is not escaped.
// It is used for fragments rendered by Replace.
func HTML(s string) Value {
	return Value{s: s, raw: true}
}

// Bool returns a boolean value rendered as true or false.
func Bool(b bool) Value {
	return Value{s: strconv.FormatBool(b)}
}

// Param is a single named template parameter.
type Param struct {
	Key   string
	Value Value
}

// Replace substitutes {{key}} and {{ key }} placeholders with HTML-escaped values.
//
// Unknown placeholders are left as is. Substituted values are not scanned for placeholders again.
// If keys repeat, the first parameter wins.
func Replace(tmpl string, params ...Param) string {
	if len(params) == 0 {
		return tmpl
	}

	oldnew := make([]string, 0, len(params)*4)

	for _, p := range params {
		v := p.Value.s
		if !p.Value.raw {
			v = html.EscapeString(v)
		}

		oldnew = append(oldnew, "{{"+p.Key+"}}", v, "{{ "+p.Key+" }}", v)
	}

	return strings.NewReplacer(oldnew...).Replace(tmpl)
}

// Renderer renders templates from a file system.
type Renderer struct {
	fsys fs.FS
	l    *zap.Logger
}

// New returns a renderer for templates in fsys.
func New(fsys fs.FS, l *zap.Logger) *Renderer {
	return &Renderer{
		fsys: fsys,
		l:    l,
	}
}

// Render returns the named template with substituted parameters.
//
// It returns an error wrapping fs.ErrNotExist if there is no such template.
func (r *Renderer) Render(name string, params ...Param) (string, error) {
	b, err := fs.ReadFile(r.fsys, name)
	if err != nil {
		return "", lazyerrors.Error(err)
	}

	return Replace(string(b), params...), nil
}

// Respond answers the request with the rendered template.
//
// A missing template is answered with 404, other errors with 500.
func (r *Renderer) Respond(req *clientconn.Request, status int, name string, params ...Param) {
	body, err := r.Render(name, params...)

	switch {
	case err == nil:
		_ = req.RespondString(status, "text/html; charset=utf-8", body)

	case errors.Is(err, fs.ErrNotExist):
		r.l.Warn("Template not found", zap.String("template", name), zap.Error(err))
		_ = req.RespondString(http.StatusNotFound, "", "<h1>404 Not Found</h1>")

	default:
		r.l.Error("Failed to render template", zap.String("template", name), zap.Error(err))
		_ = req.RespondString(http.StatusInternalServerError, "", "<h1>500 Internal Server Error</h1>")
	}
}
