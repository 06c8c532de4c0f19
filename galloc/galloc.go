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

// Package galloc is the public surface of the allocator: a two-tier
// design end to end, a per-goroutine bucket cache (tcache) backed by a
// single shared arena (arena), with no error return on the hot path,
// matching the "fire and forget" shape of concurrency/gopool's Go/CtxGo,
// which likewise has no error return and instead panics or logs on the
// failure path.
package galloc

import (
	"fmt"
	"log"
	"sync"
	"unsafe"

	"github.com/timandy/routine"

	"github.com/zcorning/c-memory-allocator/arena"
	"github.com/zcorning/c-memory-allocator/internal/block"
	"github.com/zcorning/c-memory-allocator/internal/sizeclass"
	"github.com/zcorning/c-memory-allocator/pagesource"
	"github.com/zcorning/c-memory-allocator/tcache"
	"github.com/zcorning/c-memory-allocator/unsafex"
)

// Overhead is the per-allocation bookkeeping cost charged against a
// caller's requested byte count before rounding. Packages that need to
// predict how much usable capacity a given request will yield (e.g.
// cache/mempool, when deciding whether a size should route through this
// allocator) subtract it from a target chunk size.
const Overhead = block.SizeFieldBytes

// CapacityFor returns the usable byte capacity of the allocation backing
// payload pointer p, a value previously returned by Allocate or
// Reallocate.
func CapacityFor(p unsafe.Pointer) int {
	return int(block.FromPayload(p).Size()) - block.SizeFieldBytes
}

// Option configures an Allocator, mirroring concurrency/gopool.Option's
// shape: a plain struct of tunables plus a DefaultOptions constructor,
// rather than a long functional-options chain.
type Option struct {
	// ChunkSize is C, the boundary between the small regime (powers of
	// two) and the large regime (multiples of ChunkSize). Must be a
	// power of two and a multiple of the host page size.
	ChunkSize uintptr

	// SeedChunks is how many chunks the arena is pre-populated with the
	// first time any goroutine allocates. Afterward each arena miss
	// obtains only the rounded size of the request that missed (one chunk
	// for a bucket-cache refill) rather than reserving a large region up
	// front.
	SeedChunks int
}

// DefaultOptions returns the default tuning: a 1MiB chunk size and a
// one-chunk seed.
func DefaultOptions() *Option {
	return &Option{
		ChunkSize:  1 << 20,
		SeedChunks: 1,
	}
}

// Allocator is a complete two-tier allocator: one Arena shared by every
// goroutine, and one tcache.Cache per goroutine that has ever allocated,
// keyed by goroutine identity via routine.ThreadLocal.
type Allocator struct {
	opt *Option

	pages *pagesource.Source
	arena *arena.Arena

	minOrder int
	topOrder int

	caches routine.ThreadLocal[*tcache.Cache]

	seedOnce sync.Once
	seedErr  error
}

// New constructs an Allocator. It does not touch the page source until
// the first Allocate call, so constructing one is cheap and side-effect
// free.
func New(opt *Option) (*Allocator, error) {
	if opt == nil {
		opt = DefaultOptions()
	}
	if opt.ChunkSize == 0 || opt.ChunkSize&(opt.ChunkSize-1) != 0 {
		return nil, fmt.Errorf("galloc: ChunkSize %d is not a power of two", opt.ChunkSize)
	}
	pages := pagesource.New()
	if int(opt.ChunkSize)%pages.PageSize() != 0 {
		return nil, fmt.Errorf("galloc: ChunkSize %d is not a multiple of the page size (%d)", opt.ChunkSize, pages.PageSize())
	}
	if opt.SeedChunks <= 0 {
		return nil, fmt.Errorf("galloc: SeedChunks must be positive, got %d", opt.SeedChunks)
	}

	a := arena.New(pages, opt.ChunkSize)
	top := sizeclass.LogUp(opt.ChunkSize, opt.ChunkSize)
	min := sizeclass.LogUp(uintptr(block.HeaderBytes), uintptr(block.HeaderBytes))

	return &Allocator{
		opt:      opt,
		pages:    pages,
		arena:    a,
		minOrder: min,
		topOrder: top,
		caches:   routine.NewThreadLocal[*tcache.Cache](),
	}, nil
}

// cacheForCurrentGoroutine returns (creating if necessary) this
// goroutine's bucket cache. Lazily seeding the arena here, guarded by
// sync.Once, defers any page-source interaction until the allocator is
// actually used.
func (a *Allocator) cacheForCurrentGoroutine() *tcache.Cache {
	a.seedOnce.Do(func() {
		a.seedErr = a.arena.Seed(uintptr(a.opt.SeedChunks) * a.opt.ChunkSize)
	})
	if a.seedErr != nil {
		panic(fmt.Errorf("galloc: failed to seed arena: %w", a.seedErr))
	}

	if c := a.caches.Get(); c != nil {
		return c
	}
	c := tcache.New(a.arena, a.minOrder, a.topOrder)
	a.caches.Set(c)
	return c
}

// Allocate returns a pointer to at least b usable bytes, or nil if
// b <= 0. Sizes that fit in ChunkSize together with the size field
// (b + Overhead <= ChunkSize) are served from the calling goroutine's
// bucket cache; larger sizes route straight to the arena, rounded up to
// a multiple of ChunkSize.
func (a *Allocator) Allocate(b int) unsafe.Pointer {
	if b <= 0 {
		return nil
	}
	need := uintptr(b) + uintptr(block.SizeFieldBytes)

	if need <= a.opt.ChunkSize {
		order := sizeclass.LogUp(need, uintptr(block.HeaderBytes))
		h := a.cacheForCurrentGoroutine().Alloc(order)
		return h.Payload()
	}

	a.seedOnce.Do(func() {
		a.seedErr = a.arena.Seed(uintptr(a.opt.SeedChunks) * a.opt.ChunkSize)
	})
	if a.seedErr != nil {
		panic(fmt.Errorf("galloc: failed to seed arena: %w", a.seedErr))
	}
	chunks := sizeclass.ChunksUp(need, a.opt.ChunkSize)
	h := a.arena.Alloc(chunks * a.opt.ChunkSize)
	return h.Payload()
}

// Release returns memory previously returned by Allocate or Reallocate.
// p == nil is a no-op.
func (a *Allocator) Release(p unsafe.Pointer) {
	if p == nil {
		return
	}
	h := block.FromPayload(p)
	size := h.Size()

	if size <= a.opt.ChunkSize {
		order := sizeclass.LogUp(size, uintptr(block.HeaderBytes))
		a.cacheForCurrentGoroutine().Free(h, order)
		return
	}
	a.arena.Free(h)
}

// Reallocate resizes the allocation at p to hold at least b bytes,
// returning a (possibly new) pointer. Reallocate(nil, b) behaves like
// Allocate(b); Reallocate(p, 0) behaves like Release(p) and returns nil.
//
// The grow path never copies the previous payload into the new block:
// this mirrors the documented behavior of the allocator this package
// implements rather than silently patching over it, and it is the
// caller's responsibility to treat a grow as returning uninitialized
// memory, exactly as a fresh Allocate would.
func (a *Allocator) Reallocate(p unsafe.Pointer, b int) unsafe.Pointer {
	if p == nil {
		return a.Allocate(b)
	}
	if b <= 0 {
		a.Release(p)
		return nil
	}

	h := block.FromPayload(p)
	oldSize := h.Size()
	need := uintptr(b) + uintptr(block.SizeFieldBytes)

	if need <= oldSize {
		// Shrinking: only the large regime ever splits off a usable
		// remainder, since small-regime classes are already the
		// smallest power of two that fits and splitting further would
		// just hand the remainder straight back to a bucket cache
		// instead of to the caller, which is not what an in-place
		// shrink means.
		if oldSize > a.opt.ChunkSize {
			newChunks := sizeclass.ChunksUp(need, a.opt.ChunkSize)
			newSize := newChunks * a.opt.ChunkSize
			if newSize < oldSize {
				suffix := block.Split(h, newSize)
				a.arena.Free(suffix)
			}
		}
		return h.Payload()
	}

	a.Release(p)
	return a.Allocate(b)
}

// Stats reports best-effort, process-wide counters: chunks the arena has
// handed out and chunks released back into it, plus the pages and bytes
// obtained from the page source. These are not synchronized with any
// particular Allocate/Release call.
type Stats struct {
	ChunksObtained uint64
	ChunksReturned uint64
	PagesMapped    uint64
	BytesMapped    uint64
}

// String renders Stats for logging. It builds the line into a scratch
// byte buffer and hands it back as a string without copying, the same
// zero-copy conversion unsafex offers in place of a string(buf) cast.
func (s Stats) String() string {
	buf := fmt.Appendf(nil, "chunks{obtained=%d returned=%d} pages{mapped=%d bytes=%d}",
		s.ChunksObtained, s.ChunksReturned, s.PagesMapped, s.BytesMapped)
	return unsafex.BinaryToString(buf)
}

// Stats snapshots the allocator's lifetime counters.
func (a *Allocator) Stats() Stats {
	obtained, returned := a.arena.Stats()
	pages, bytes := a.pages.Stats()
	return Stats{
		ChunksObtained: obtained,
		ChunksReturned: returned,
		PagesMapped:    pages,
		BytesMapped:    bytes,
	}
}

var (
	defaultOnce sync.Once
	defaultAllc *Allocator
)

func defaultAllocator() *Allocator {
	defaultOnce.Do(func() {
		a, err := New(DefaultOptions())
		if err != nil {
			// DefaultOptions is always valid; a failure here means the
			// host page size is incompatible with the default chunk
			// size, which is unrecoverable for package-level use.
			log.Panicf("galloc: failed to construct default allocator: %v", err)
		}
		defaultAllc = a
	})
	return defaultAllc
}

// Allocate calls Allocate on the package's default Allocator.
func Allocate(b int) unsafe.Pointer { return defaultAllocator().Allocate(b) }

// Release calls Release on the package's default Allocator.
func Release(p unsafe.Pointer) { defaultAllocator().Release(p) }

// Reallocate calls Reallocate on the package's default Allocator.
func Reallocate(p unsafe.Pointer, b int) unsafe.Pointer {
	return defaultAllocator().Reallocate(p, b)
}

// StatsDefault calls Stats on the package's default Allocator.
func StatsDefault() Stats { return defaultAllocator().Stats() }
