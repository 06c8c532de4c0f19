//go:build unix

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

package galloc

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/zcorning/c-memory-allocator/internal/block"
)

// TestAllocatorScenarios narrates the allocator's concrete worked
// scenarios as Convey specs, the way flier-goutil exercises its own
// debug-build assertions under goconvey.
func TestAllocatorScenarios(t *testing.T) {
	Convey("Given a fresh allocator with a small chunk size", t, func() {
		a, err := New(&Option{ChunkSize: 4096, SeedChunks: 1})
		So(err, ShouldBeNil)

		Convey("allocating 100 bytes rounds up to the next power of two covering header overhead", func() {
			p := a.Allocate(100)
			So(p, ShouldNotBeNil)

			h := block.FromPayload(p)
			So(h.Size(), ShouldEqual, 128)
		})

		Convey("a request spanning more than one chunk routes to the arena in chunk multiples", func() {
			p := a.Allocate(2*4096 + 5)
			So(p, ShouldNotBeNil)

			stats := a.Stats()
			So(stats.ChunksObtained, ShouldEqual, 3)
		})

		Convey("releasing and reallocating the same small size reuses the block", func() {
			p1 := a.Allocate(10)
			a.Release(p1)
			p2 := a.Allocate(10)
			So(p2, ShouldEqual, p1)
		})

		Convey("freeing two whole chunk-sized blocks promotes one back to the arena", func() {
			// 4096 minus the header's size field lands exactly on a
			// full chunk in the small regime (the boundary order),
			// rather than spilling into the large regime.
			const fullChunkPayload = 4096 - 8
			big1 := a.Allocate(fullChunkPayload)
			big2 := a.Allocate(fullChunkPayload)
			a.Release(big1)
			before := a.Stats()
			a.Release(big2)
			after := a.Stats()
			So(after.ChunksReturned, ShouldBeGreaterThan, before.ChunksReturned)
		})
	})
}
