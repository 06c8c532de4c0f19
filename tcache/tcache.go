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

// Package tcache implements the per-goroutine bucket cache: one
// same-order free list per power-of-two size class from the header
// floor up to the chunk size, refilled from and drained back into a
// shared arena.Arena. A Cache is never touched by more than one
// goroutine at a time (see galloc, which keys one Cache per goroutine
// via routine.ThreadLocal), so none of its methods take a lock.
package tcache

import (
	"github.com/zcorning/c-memory-allocator/arena"
	"github.com/zcorning/c-memory-allocator/internal/block"
	"github.com/zcorning/c-memory-allocator/internal/flist"
	"github.com/zcorning/c-memory-allocator/internal/invariant"
)

// Cache holds one free list per order in [minOrder, topOrder]. Order i
// holds blocks of exactly 2^i bytes; topOrder is the order of the
// arena's chunk size, the boundary at which the small regime hands off
// to the large regime.
type Cache struct {
	buckets  []flist.List // indexed by order - minOrder
	arena    *arena.Arena
	minOrder int
	topOrder int

	refills    uint64
	promotions uint64
}

// New creates a bucket cache for orders [minOrder, topOrder] backed by a.
// 1<<topOrder must equal a.ChunkSize().
func New(a *arena.Arena, minOrder, topOrder int) *Cache {
	invariant.Check(uintptr(1)<<uint(topOrder) == a.ChunkSize(), "tcache: topOrder %d does not match arena chunk size %d", topOrder, a.ChunkSize())
	return &Cache{
		buckets:  make([]flist.List, topOrder-minOrder+1),
		arena:    a,
		minOrder: minOrder,
		topOrder: topOrder,
	}
}

func (c *Cache) bucket(order int) *flist.List { return &c.buckets[order-c.minOrder] }

// Alloc returns a free block of exactly 2^order bytes, order in
// [minOrder, topOrder]. It pops a hit from bucket[order] if one exists;
// otherwise it takes the smallest available larger block (refilling the
// top bucket from the arena if every bucket is empty) and splits it down
// to size, stashing each leftover half in its own bucket.
func (c *Cache) Alloc(order int) *block.Header {
	invariant.Check(order >= c.minOrder && order <= c.topOrder, "tcache: Alloc order %d out of range [%d,%d]", order, c.minOrder, c.topOrder)

	if h := c.bucket(order).PopFront(); h != nil {
		return h
	}

	src := order + 1
	for src <= c.topOrder && c.bucket(src).Len() == 0 {
		src++
	}
	if src > c.topOrder {
		// Every bucket empty: refill one whole chunk from the arena and
		// treat it as a sole entry at topOrder before splitting down.
		h := c.arena.Alloc(c.arena.ChunkSize())
		h.SetNext(nil)
		c.refills++
		c.splitDown(h, c.topOrder, order)
		return h
	}

	h := c.bucket(src).PopFront()
	c.splitDown(h, src, order)
	return h
}

// splitDown repeatedly halves h (currently of order from) down to order
// to, filing each produced sibling half into its own bucket, and leaves
// h itself resized to 2^to bytes.
func (c *Cache) splitDown(h *block.Header, from, to int) {
	for order := from; order > to; order-- {
		half := uintptr(1) << uint(order-1)
		sibling := block.Split(h, half)
		invariant.Check(sibling != nil, "tcache: split at order %d produced no sibling", order)
		c.bucket(order - 1).InsertSorted(sibling)
	}
}

// Free returns a block of order order to the cache, coalescing with its
// address buddy whenever the buddy is itself free, bubbling up through
// successively larger orders. There is no bucket above topOrder, so a
// block that reaches topOrder is simply inserted: once a bucket holds
// two full chunks, the cache promotes one of them back to the arena
// rather than accumulating more, capping per-goroutine waste at at most
// one resident chunk.
//
// Two blocks of the same order can sit back to back in memory without
// being buddies (e.g. orders 0 blocks at addresses 3 and 4: adjacent,
// but 3's buddy is 2 and 4's buddy is 5), so adjacency alone is not
// enough to decide whether to merge — only the exact buddy address,
// addr XOR 2^order, identifies the one block h may legally combine
// with. This mirrors the offset^blockSize buddy test in
// unsafex/malloc.BuddyAllocator.CoalesceUntil rather than a plain
// IsAdjacent probe.
func (c *Cache) Free(h *block.Header, order int) {
	invariant.Check(order >= c.minOrder && order <= c.topOrder, "tcache: Free order %d out of range [%d,%d]", order, c.minOrder, c.topOrder)

	for order < c.topOrder {
		blockSize := uintptr(1) << uint(order)
		buddyAddr := h.Addr() ^ blockSize
		lowerHalf := h.Addr() < buddyAddr

		b := c.bucket(order)
		prev := b.InsertSorted(h)

		var merged *block.Header
		switch {
		case lowerHalf:
			if n := h.Next(); n != nil && n.Addr() == buddyAddr && b.CoalesceNext(h) {
				merged = h
			}
		case prev != nil && prev.Addr() == buddyAddr:
			if b.CoalesceNext(prev) {
				merged = prev
			}
		}

		if merged == nil {
			return
		}
		invariant.Check(merged.Addr()%(blockSize<<1) == 0, "tcache: coalesced block at %#x is not %d-aligned", merged.Addr(), blockSize<<1)
		b.Remove(merged)
		h = merged
		order++
	}

	// order == topOrder: terminal case, no further coalescing target
	// exists above it.
	c.bucket(c.topOrder).InsertSorted(h)
	if c.bucket(c.topOrder).Len() >= 2 {
		full := c.bucket(c.topOrder).PopFront()
		c.arena.Free(full)
		c.promotions++
	}
}

// Stats reports lifetime counts of chunk refills taken from, and chunk
// promotions returned to, the backing arena.
func (c *Cache) Stats() (refills, promotions uint64) {
	return c.refills, c.promotions
}
