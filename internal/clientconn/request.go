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

// Package clientconn provides the acceptor of client connections and the request they carry.
package clientconn

import (
	"bufio"
	"errors"
	"io"
	"mime"
	"net"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/appserver/appserver/internal/util/lazyerrors"
	"github.com/appserver/appserver/internal/util/resource"
)

// ErrResponded is returned by Respond for a request that was already answered or released.
var ErrResponded = errors.New("request was already answered or released")

// writeTimeout limits writing a response to a slow client.
const writeTimeout = 10 * time.Second

// Request is a fully parsed client request.
//
// It owns the client connection until it is answered with Respond or dropped with Release;
// exactly one of them must be called.
//
//nolint:vet // for readability
type Request struct {
	ID         string
	Method     string
	Path       string
	Query      url.Values
	Header     Header
	Params     map[string]string
	Body       []byte
	RemoteAddr string

	conn      io.WriteCloser
	done      func(status int)
	responded atomic.Bool
	status    atomic.Int32

	token *resource.Token
}

// newRequest returns a request that answers on the given connection.
//
// done, if not nil, is called once the connection is closed; status is 0 for released requests.
func newRequest(conn io.WriteCloser, done func(status int)) *Request {
	r := &Request{
		Params: map[string]string{},
		conn:   conn,
		done:   done,
		token:  resource.NewToken(),
	}

	resource.Track(r, r.token)

	return r
}

// Param returns the named path parameter, or an empty string.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// Form parses the body of application/x-www-form-urlencoded requests.
//
// Other content types yield empty values.
func (r *Request) Form() (url.Values, error) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/x-www-form-urlencoded" {
		return url.Values{}, nil
	}

	values, err := url.ParseQuery(string(r.Body))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return values, nil
}

// Respond writes the response and closes the connection.
//
// Empty contentType means text/html.
// It returns ErrResponded if the request was already answered or released.
func (r *Request) Respond(status int, contentType string, body []byte) error {
	if !r.responded.CompareAndSwap(false, true) {
		return ErrResponded
	}

	r.status.Store(int32(status))

	defer r.finish(status)

	if contentType == "" {
		contentType = "text/html"
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	resp.SetStatusCode(status)
	resp.Header.SetContentType(contentType)
	resp.Header.Set("X-Request-Id", r.ID)
	resp.SetConnectionClose()
	resp.SetBody(body)

	if c, ok := r.conn.(net.Conn); ok {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	}

	bw := bufio.NewWriter(r.conn)

	if err := resp.Write(bw); err != nil {
		return lazyerrors.Error(err)
	}

	if err := bw.Flush(); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// RespondString is a shortcut for Respond with a string body.
func (r *Request) RespondString(status int, contentType, body string) error {
	return r.Respond(status, contentType, []byte(body))
}

// Release closes the connection without answering.
//
// It does nothing if the request was already answered or released.
func (r *Request) Release() {
	if !r.responded.CompareAndSwap(false, true) {
		return
	}

	r.finish(0)
}

// Answered returns true if Respond or Release was called.
func (r *Request) Answered() bool {
	return r.responded.Load()
}

// Status returns the status of the written response, or 0 if there is none.
func (r *Request) Status() int {
	return int(r.status.Load())
}

// finish closes the connection and stops tracking.
func (r *Request) finish(status int) {
	_ = r.conn.Close()

	resource.Untrack(r, r.token)

	if r.done != nil {
		r.done(status)
	}
}

// String implements [fmt.Stringer].
func (r *Request) String() string {
	return r.Method + " " + r.Path + " (" + r.ID + ", " + strconv.Itoa(len(r.Body)) + " bytes)"
}
