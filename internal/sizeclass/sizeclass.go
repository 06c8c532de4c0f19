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

// Package sizeclass implements the allocator's size mathematics:
// rounding a requested byte count up to one of two regimes, a power of
// two for the small regime or a chunk multiple for the large one. The
// bit trick mirrors a buddy allocator's classic getOrderForSize, which
// computes the same "smallest order that fits" quantity with
// bits.Len(size-1).
package sizeclass

import "math/bits"

// LogUp returns the smallest i such that 2^i >= max(n, floor). floor is
// typically the allocator's header size, since no block smaller than
// that can ever hold a valid free-list link.
func LogUp(n, floor uintptr) int {
	if n < floor {
		n = floor
	}
	return bits.Len(uint(n - 1))
}

// ChunksUp returns the smallest positive integer m such that m*chunk >= n.
func ChunksUp(n, chunk uintptr) uintptr {
	return (n + chunk - 1) / chunk
}
