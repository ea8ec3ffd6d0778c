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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestCircularBuffer(t *testing.T) {
	t.Parallel()

	cb := newCircularBuffer(3)
	assert.Empty(t, cb.Get(zapcore.DebugLevel))

	levels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, l := range levels {
		cb.append(&zapcore.Entry{
			Level:   l,
			Time:    time.Now(),
			Message: fmt.Sprintf("message %d", i),
		})
	}

	all := cb.Get(zapcore.DebugLevel)
	require.Len(t, all, 3)
	assert.Equal(t, "message 1", all[0].Message)
	assert.Equal(t, "message 3", all[2].Message)

	warn := cb.Get(zapcore.WarnLevel)
	require.Len(t, warn, 2)
	assert.Equal(t, zapcore.WarnLevel, warn[0].Level)

	assert.Panics(t, func() { newCircularBuffer(0) })
}
