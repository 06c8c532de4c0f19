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

// Package flist implements the one free-list shape shared by both
// tenants of the allocator: the global arena's single address-ordered
// list of chunk-multiple blocks, and every per-goroutine bucket's list
// of same-order blocks. Both are a singly linked list of free blocks
// sorted by ascending starting address. The arena coalesces eagerly, so
// no two of its entries are adjacent in memory; a bucket merges only
// buddies, so it can hold two adjacent blocks that are not buddies. The
// mutex discipline wrapped around the type (or its absence) also
// differs between the two tenants, and that lives in arena and tcache
// respectively.
package flist

import "github.com/zcorning/c-memory-allocator/internal/block"

// List is an address-ordered singly linked free list.
type List struct {
	Head *block.Header
}

// Len walks the list to count its entries. Free lists here are kept
// small by eager coalescing, so an O(n) walk is cheap; it exists for
// Stats and debug-build invariant checks, not the hot allocate/free path.
func (l *List) Len() int {
	n := 0
	for h := l.Head; h != nil; h = h.Next() {
		n++
	}
	return n
}

// InsertSorted inserts h keeping ascending-address order and returns h's
// new predecessor, or nil if h becomes the new head.
func (l *List) InsertSorted(h *block.Header) *block.Header {
	if l.Head == nil || h.Addr() < l.Head.Addr() {
		h.SetNext(l.Head)
		l.Head = h
		return nil
	}
	prev := l.Head
	for prev.Next() != nil && prev.Next().Addr() < h.Addr() {
		prev = prev.Next()
	}
	h.SetNext(prev.Next())
	prev.SetNext(h)
	return prev
}

// SetPair installs a fresh two-element list from a split, where the
// caller already knows lower precedes upper in address order (every
// split produces exactly that shape), so no comparison is needed.
func (l *List) SetPair(lower, upper *block.Header) {
	lower.SetNext(upper)
	upper.SetNext(nil)
	l.Head = lower
}

// PopFront detaches and returns the head of the list, or nil if empty.
func (l *List) PopFront() *block.Header {
	h := l.Head
	if h != nil {
		l.Head = h.Next()
		h.SetNext(nil)
	}
	return h
}

// FindFirstFit returns the first block whose size is >= minSize, along
// with its predecessor (nil if it is the head), so the caller can detach
// it in O(1) via RemoveAfter. Returns (nil, nil) if no block qualifies.
func (l *List) FindFirstFit(minSize uintptr) (h, prev *block.Header) {
	var p *block.Header
	for cur := l.Head; cur != nil; cur = cur.Next() {
		if cur.Size() >= minSize {
			return cur, p
		}
		p = cur
	}
	return nil, nil
}

// RemoveAfter detaches h given its already-known predecessor prev (nil
// if h is the head). O(1).
func (l *List) RemoveAfter(prev, h *block.Header) {
	if prev == nil {
		l.Head = h.Next()
	} else {
		prev.SetNext(h.Next())
	}
	h.SetNext(nil)
}

// Remove scans the list for h and detaches it. Panics if h is not
// present: that signals an internal invariant violation (a block that
// should be in this list is not), not caller misuse.
func (l *List) Remove(h *block.Header) {
	if l.Head == h {
		l.Head = h.Next()
		h.SetNext(nil)
		return
	}
	prev := l.Head
	for prev != nil && prev.Next() != h {
		prev = prev.Next()
	}
	if prev == nil {
		panic("flist: block not present in list")
	}
	prev.SetNext(h.Next())
	h.SetNext(nil)
}

// CoalesceNext merges h with its immediate successor if they are
// adjacent in memory: sizes are summed and the neighbor is bypassed.
// Reports whether a merge happened.
func (l *List) CoalesceNext(h *block.Header) bool {
	n := h.Next()
	if n == nil || !block.IsAdjacent(h, n) {
		return false
	}
	h.SetSize(h.Size() + n.Size())
	h.SetNext(n.Next())
	return true
}
