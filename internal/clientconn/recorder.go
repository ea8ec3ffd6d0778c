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
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/appserver/appserver/internal/util/lazyerrors"
)

// Recorder records the response written to a request created by [NewTestRequest].
type Recorder struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	status int
}

// Write implements io.Writer.
func (rec *Recorder) Write(p []byte) (int, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.buf.Write(p)
}

// Close implements io.Closer.
func (rec *Recorder) Close() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.closed = true

	return nil
}

// Closed returns true if the request was answered or released.
func (rec *Recorder) Closed() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.closed
}

// Status returns the response status, or 0 if the request was released without an answer.
func (rec *Recorder) Status() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.status
}

// Raw returns the response bytes as written to the connection.
func (rec *Recorder) Raw() []byte {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return bytes.Clone(rec.buf.Bytes())
}

// Response parses the recorded response.
func (rec *Recorder) Response() (*fasthttp.Response, error) {
	var resp fasthttp.Response
	if err := resp.Read(bufio.NewReader(bytes.NewReader(rec.Raw()))); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &resp, nil
}

// NewTestRequest returns a request that writes its response to a Recorder.
//
// It is intended for handler and worker tests.
func NewTestRequest(method, target string, header Header, body []byte) (*Request, *Recorder) {
	rec := new(Recorder)

	req := newRequest(rec, func(status int) {
		rec.mu.Lock()
		rec.status = status
		rec.mu.Unlock()
	})

	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: target}
	}

	req.ID = uuid.NewString()
	req.Method = method
	req.Path = u.Path
	req.Query = u.Query()
	req.Header = header
	req.Body = body
	req.RemoteAddr = "test"

	return req, rec
}
