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

package observability

import (
	"context"
	"runtime"
	"runtime/trace"

	"github.com/appserver/appserver/internal/util/resource"
)

// funcCall tracks a single function call.
type funcCall struct {
	token  *resource.Token
	region *trace.Region
}

// FuncCall adds observability to a function call.
//
// It must be the first statement of the function:
//
//	func (h *Handle) Exec(ctx context.Context, query string) error {
//	    defer observability.FuncCall(ctx)()
//	    // ...
//
// The returned function must not be stored or passed around.
// When the Go execution tracer is enabled, the call becomes a region of the task in ctx.
// The call is also tracked as a resource, so a missing deferred call is reported.
func FuncCall(ctx context.Context) func() {
	fc := &funcCall{
		token: resource.NewToken(),
	}
	resource.Track(fc, fc.token)

	if trace.IsEnabled() {
		name := "unknown"
		if pc, _, _, ok := runtime.Caller(1); ok {
			if f := runtime.FuncForPC(pc); f != nil {
				name = f.Name()
			}
		}

		fc.region = trace.StartRegion(ctx, name)
	}

	return fc.leave
}

// leave ends the region and stops tracking.
func (fc *funcCall) leave() {
	if fc.region != nil {
		fc.region.End()
	}

	resource.Untrack(fc, fc.token)
}
