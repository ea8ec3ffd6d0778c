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

package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap/zapcore"
)

// RecentEntries keeps the last log entries in memory for the debug handler.
var RecentEntries = newCircularBuffer(1024)

// circularBuffer stores a fixed number of the most recent entries.
type circularBuffer struct {
	mu      sync.RWMutex
	entries []*zapcore.Entry
	index   int
}

// newCircularBuffer creates a buffer for size entries.
func newCircularBuffer(size int) *circularBuffer {
	if size < 1 {
		panic(fmt.Sprintf("buffer size must be at least 1, but %d provided", size))
	}

	return &circularBuffer{
		entries: make([]*zapcore.Entry, size),
	}
}

func (cb *circularBuffer) append(entry *zapcore.Entry) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.entries[cb.index] = entry
	cb.index = (cb.index + 1) % len(cb.entries)
}

// Get returns stored entries at or above minLevel, oldest first.
func (cb *circularBuffer) Get(minLevel zapcore.Level) []*zapcore.Entry {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	n := len(cb.entries)
	res := make([]*zapcore.Entry, 0, n)

	for i := range n {
		e := cb.entries[(cb.index+i)%n]
		if e != nil && e.Level >= minLevel {
			res = append(res, e)
		}
	}

	return res
}
