//go:build debug

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

// Package invariant provides the assertions the allocator checks in a
// debug build. The allocator calls Check at fixed points of its arena
// and bucket-cache operations (size and alignment of the block being
// handled, alignment of a coalesced block); it does not walk every free
// list after each operation. It follows the same shape a debug package
// built on flier-goutil's own convention uses: a file built only under
// -tags debug doing real work, and a companion file (see release.go)
// built otherwise that compiles to nothing, so a release build pays zero
// cost for these checks.
package invariant

import "fmt"

// Enabled is true when this binary was built with -tags debug.
const Enabled = true

// Check aborts the process with a diagnostic if cond is false. Use it
// for internal-invariant violations: a list walk observing a negative
// gap between blocks, a bucket entry whose size isn't 2^i, and similar
// corruption that should never happen if the allocator's own
// bookkeeping is correct.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("galloc: invariant violated: "+format, args...))
	}
}
