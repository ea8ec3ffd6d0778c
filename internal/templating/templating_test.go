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


package templating

import (
	"net/http"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appserver/appserver/internal/clientconn"
	"github.com/appserver/appserver/internal/util/testutil"
)

func TestReplace(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		tmpl     string
		params   []Param
		expected string
	}{
		"Types": {
			tmpl: "{{s}} {{i}} {{f}} {{b}} {{z}}",
			params: []Param{
				{"s", String("text")},
				{"i", Int(-42)},
				{"f", Float(3.14159)},
				{"b", Bool(true)},
				{"z", Value{}},
			},
			expected: "text -42 3.14 true ",
		},
		"Spaces": {
			tmpl:     "<p>{{name}}</p><p>{{ name }}</p><p>{{  name  }}</p>",
			params:   []Param{{"name", String("Ann")}},
			expected: "<p>Ann</p><p>Ann</p><p>{{  name  }}</p>",
		},
		"Unknown": {
			tmpl:     "{{known}} {{unknown}}",
			params:   []Param{{"known", Int(1)}},
			expected: "1 {{unknown}}",
		},
		"Escape": {
			tmpl:     `<a title="{{t}}">{{t}}</a>`,
			params:   []Param{{"t", String(`<script>"x" & 'y'</script>`)}},
			expected: `<a title="&lt;script&gt;&#34;x&#34; &amp; &#39;y&#39;&lt;/script&gt;">&lt;script&gt;&#34;x&#34; &amp; &#39;y&#39;&lt;/script&gt;</a>`,
		},
		"HTML": {
			tmpl:     "<ul>{{items}}</ul>",
			params:   []Param{{"items", HTML("<li>a &amp; b</li>")}},
			expected: "<ul><li>a &amp; b</li></ul>",
		},
		"NoRecursion": {
			tmpl:     "{{a}} {{b}}",
			params:   []Param{{"a", String("{{b}}")}, {"b", String("B")}},
			expected: "{{b}} B",
		},
		"FloatRounding": {
			tmpl:     "{{f}}",
			params:   []Param{{"f", Float(2.005)}},
			expected: "2.00",
		},
		"NoParams": {
			tmpl:     "{{x}}",
			expected: "{{x}}",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, Replace(tc.tmpl, tc.params...))
		})
	}
}

func TestRespond(t *testing.T) {
	t.Parallel()

	r := New(fstest.MapFS{
		"user.html": {Data: []byte("<h1>{{ name }}</h1>")},
	}, testutil.Logger(t))

	req, rec := clientconn.NewTestRequest(http.MethodGet, "/", nil, nil)
	r.Respond(req, http.StatusOK, "user.html", Param{"name", String("Ann & Bob")})

	resp, err := rec.Response()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "<h1>Ann &amp; Bob</h1>", string(resp.Body()))

	req, rec = clientconn.NewTestRequest(http.MethodGet, "/", nil, nil)
	r.Respond(req, http.StatusOK, "missing.html")

	resp, err = rec.Response()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
	assert.Equal(t, "<h1>404 Not Found</h1>", string(resp.Body()))
}
