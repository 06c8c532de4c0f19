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

// Package arena implements the allocator's global arena: the single,
// process-wide, address-ordered free list of chunk-multiple blocks that
// backs both large-regime allocations and thread-cache refills. One
// mutex guards the whole structure.
package arena

import (
	"fmt"
	"sync"

	"github.com/zcorning/c-memory-allocator/internal/block"
	"github.com/zcorning/c-memory-allocator/internal/flist"
	"github.com/zcorning/c-memory-allocator/internal/invariant"
	"github.com/zcorning/c-memory-allocator/pagesource"
)

// Arena is the shared, address-ordered free list of blocks whose sizes
// are multiples of ChunkSize. Every reader and writer of the list holds
// mu for the duration of its operation; the only exception is refilling
// from the page source, which happens outside the lock once a miss is
// detected.
type Arena struct {
	mu        sync.Mutex
	list      flist.List
	pages     *pagesource.Source
	chunkSize uintptr

	// Best-effort counters, not meant to be thread-safe statistics: these
	// are updated under mu (cheap, since mu is already held for the
	// surrounding operation) but Stats is a point-in-time read, not a
	// guarantee of global consistency with concurrent Alloc/Free calls.
	chunksObtained uint64
	chunksReturned uint64
}

// New creates an arena that refills from pages in units of chunkSize
// bytes. chunkSize must already be validated as a power of two by the
// caller (galloc.New does this).
func New(pages *pagesource.Source, chunkSize uintptr) *Arena {
	return &Arena{pages: pages, chunkSize: chunkSize}
}

// ChunkSize returns C, the unit in which memory moves between the arena
// and the thread caches.
func (a *Arena) ChunkSize() uintptr { return a.chunkSize }

// Seed installs n bytes obtained from the page source as a single free
// block. n must already be a multiple of ChunkSize. The owning
// Allocator calls this once, lazily, guarded by a one-shot primitive.
func (a *Arena) Seed(n uintptr) error {
	ptr, err := a.pages.Obtain(int(n))
	if err != nil {
		return fmt.Errorf("arena: seed: %w", err)
	}
	h := block.New(uintptr(ptr), n)
	h.SetNext(nil)
	a.mu.Lock()
	a.list.InsertSorted(h)
	a.mu.Unlock()
	return nil
}

// Alloc satisfies a request of exactly r bytes, where r is already
// rounded up to a multiple of ChunkSize by the caller. The returned
// block's recorded size is exactly r.
func (a *Arena) Alloc(r uintptr) *block.Header {
	invariant.Check(r%a.chunkSize == 0, "arena: Alloc called with non-chunk-multiple size %d", r)

	a.mu.Lock()
	if h, prev := a.list.FindFirstFit(r); h != nil {
		a.list.RemoveAfter(prev, h)
		suffix := block.Split(h, r)
		if suffix != nil {
			invariant.Check(suffix.Size() >= a.chunkSize, "arena: split left a sub-chunk suffix of %d bytes", suffix.Size())
			a.list.InsertSorted(suffix)
		}
		a.chunksObtained += uint64(r / a.chunkSize)
		a.mu.Unlock()
		return h
	}
	a.mu.Unlock()

	// No block was big enough: refill from the page source. This
	// happens outside the lock because the caller is about to use the
	// memory immediately; it only enters the free list later, via Free.
	ptr, err := a.pages.Obtain(int(r))
	if err != nil {
		// Page source exhaustion is unrecoverable: abort.
		panic(fmt.Errorf("galloc: page source exhausted requesting %d bytes: %w", r, err))
	}

	a.mu.Lock()
	a.chunksObtained += uint64(r / a.chunkSize)
	a.mu.Unlock()

	h := block.New(uintptr(ptr), r)
	h.SetNext(nil)
	return h
}

// Free returns h to the arena in address order and coalesces it with
// whichever neighbor(s) are adjacent in memory.
func (a *Arena) Free(h *block.Header) {
	invariant.Check(h.Size()%a.chunkSize == 0, "arena: freeing non-chunk-multiple size %d", h.Size())
	invariant.Check(h.Addr()%a.chunkSize == 0, "arena: freeing misaligned block at %#x", h.Addr())

	a.mu.Lock()
	defer a.mu.Unlock()

	a.chunksReturned += uint64(h.Size() / a.chunkSize)
	prev := a.list.InsertSorted(h)
	a.list.CoalesceNext(h)
	if prev != nil {
		a.list.CoalesceNext(prev)
	}
}

// FreeListLen reports the number of free blocks currently resident in
// the arena. It is a snapshot, not a guarantee, by the time it returns
// to a caller racing other allocators.
func (a *Arena) FreeListLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.list.Len()
}

// FreeBytes reports the arena's total free bytes, by the same
// best-effort contract as FreeListLen.
func (a *Arena) FreeBytes() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uintptr
	for h := a.list.Head; h != nil; h = h.Next() {
		total += h.Size()
	}
	return total
}

// Stats returns running counts of chunks obtained from (and returned
// to) this arena across its lifetime.
func (a *Arena) Stats() (chunksObtained, chunksReturned uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chunksObtained, a.chunksReturned
}
