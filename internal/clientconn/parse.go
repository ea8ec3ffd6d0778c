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

package clientconn

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// errInvalidRequestLine is returned for request lines that are not HTTP/1.x.
var errInvalidRequestLine = errors.New("invalid request line")

// methods contains accepted request methods.
var methods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// peekLine returns the first line of buffered data without consuming it,
// reading more from the underlying reader if needed.
func peekLine(br *bufio.Reader) ([]byte, error) {
	for n := 1; ; n = br.Buffered() + 1 {
		b, err := br.Peek(n)
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			return b[:i], nil
		}

		if err != nil {
			return nil, err
		}
	}
}

// checkRequestLine checks that the line is "<method> <path> HTTP/1.x".
func checkRequestLine(line []byte) error {
	parts := bytes.Split(bytes.TrimSuffix(line, []byte("\r")), []byte(" "))
	if len(parts) != 3 {
		return errInvalidRequestLine
	}

	if _, ok := methods[string(parts[0])]; !ok {
		return errInvalidRequestLine
	}

	if !bytes.HasPrefix(parts[1], []byte("/")) {
		return errInvalidRequestLine
	}

	switch string(parts[2]) {
	case "HTTP/1.0", "HTTP/1.1":
		return nil
	default:
		return errInvalidRequestLine
	}
}

// parse reads one HTTP/1.x request from br into r.
//
// Header names keep their original case.
func parse(br *bufio.Reader, maxBodySize int, r *Request) error {
	line, err := peekLine(br)
	if err != nil {
		return lazyerrors.Error(err)
	}

	if err = checkRequestLine(line); err != nil {
		return lazyerrors.Errorf("%q: %w", line, err)
	}

	fr := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(fr)

	fr.Header.DisableNormalizing()

	if err = fr.ReadLimitBody(br, maxBodySize); err != nil {
		return lazyerrors.Error(err)
	}

	r.ID = uuid.NewString()
	r.Method = string(fr.Header.Method())
	r.Path = string(fr.URI().Path())

	r.Query = url.Values{}
	fr.URI().QueryArgs().VisitAll(func(k, v []byte) {
		r.Query.Add(string(k), string(v))
	})

	fr.Header.VisitAll(func(k, v []byte) {
		r.Header.Add(string(k), string(v))
	})

	r.Body = bytes.Clone(fr.Body())

	return nil
}
