/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sizeclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogUp(t *testing.T) {
	cases := []struct {
		n, floor uintptr
		want     int
	}{
		{1, 16, 4},   // clamped to floor=16=2^4
		{16, 16, 4},
		{17, 16, 5},  // next power of two above floor
		{100 + 8, 16, 7}, // 100 bytes + 8 overhead -> 2^7=128
		{128, 16, 7},
		{129, 16, 8},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, LogUp(c.n, c.floor), "LogUp(%d,%d)", c.n, c.floor)
	}
}

func TestChunksUp(t *testing.T) {
	const C = 1 << 20
	assert.EqualValues(t, 1, ChunksUp(1, C))
	assert.EqualValues(t, 1, ChunksUp(C, C))
	assert.EqualValues(t, 2, ChunksUp(C+1, C))
	// 2*C+5 bytes request -> +8 overhead -> 3 chunks.
	assert.EqualValues(t, 3, ChunksUp(2*C+5+8, C))
}
