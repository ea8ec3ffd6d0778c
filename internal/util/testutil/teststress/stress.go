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

// Package teststress provides a helper for stress testing.
package teststress

import (
	"context"
	"runtime"
	"sync"
	"testing"
)

// NumGoroutines is the number of goroutines started by [Stress].
var NumGoroutines = runtime.GOMAXPROCS(-1) * 10

// Stress runs f in [NumGoroutines] goroutines.
//
// f should do its setup, signal ready, wait for start to be closed, and only then do the work,
// so that all goroutines run it at roughly the same time.
// id is the goroutine number, starting from 0.
func Stress(tb testing.TB, f func(id int, ready chan<- struct{}, start <-chan struct{})) {
	tb.Helper()

	var wg sync.WaitGroup

	readyCh := make(chan struct{}, NumGoroutines)
	startCh := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	for i := range NumGoroutines {
		wg.Add(1)

		go func() {
			var ok bool

			defer func() {
				wg.Done()

				// f called FailNow or require
				if !ok {
					cancel()
				}
			}()

			f(i, readyCh, startCh)

			ok = true
		}()
	}

	for range NumGoroutines {
		select {
		case <-readyCh:
		case <-ctx.Done():
		}
	}

	close(startCh)

	wg.Wait()
}
