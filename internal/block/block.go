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

// Package block implements the in-band free-block header and the
// primitives that operate directly on it: carving a block in two,
// testing whether two blocks sit back to back in memory, and recovering
// a header from the payload pointer handed to a caller.
//
// A block is a contiguous run of bytes starting with a Header. The
// header carries exactly two fields, matching the allocator's data
// model: the block's total size (valid whether the block is free or
// allocated) and a link to the next free block (valid only while the
// block sits in a free list). The payload pointer returned to a caller
// points just past the size field, so the link field doubles as the
// first bytes of payload the instant a block is allocated.
package block

import "unsafe"

// SizeFieldBytes is the width of the size field alone. It is the only
// overhead deducted from a caller's requested byte count before rounding
// (see the sizeclass package): the link field is never charged against
// payload capacity, because it only needs to exist while the block is
// free.
const SizeFieldBytes = int(unsafe.Sizeof(uint64(0)))

// Header is the in-band header prefixing every block.
type Header struct {
	size uint64
	next *Header
}

// HeaderBytes is the full footprint of Header: the floor a block must
// clear to ever function as a free block, since a free block must hold
// both the size field and the link field at once.
var HeaderBytes = int(unsafe.Sizeof(Header{}))

// At reinterprets addr as a block header in place, without writing
// anything. Used to read a header whose contents already exist at addr.
func At(addr uintptr) *Header {
	return (*Header)(unsafe.Pointer(addr))
}

// New writes a fresh header of the given size at addr and returns it.
// The link field is left as whatever bytes were already at addr+8;
// callers must call SetNext before trusting it to be nil or valid.
func New(addr uintptr, size uintptr) *Header {
	h := At(addr)
	h.size = uint64(size)
	return h
}

// FromPayload recovers the header owning a payload pointer previously
// returned by (*Header).Payload.
func FromPayload(p unsafe.Pointer) *Header {
	return (*Header)(unsafe.Pointer(uintptr(p) - uintptr(SizeFieldBytes)))
}

// Addr returns the block's starting address.
func (h *Header) Addr() uintptr { return uintptr(unsafe.Pointer(h)) }

// Size returns the block's total size, header included.
func (h *Header) Size() uintptr { return uintptr(h.size) }

// SetSize overwrites the block's recorded size.
func (h *Header) SetSize(s uintptr) { h.size = uint64(s) }

// Next returns the block's free-list successor. Only meaningful while
// the block is free.
func (h *Header) Next() *Header { return h.next }

// SetNext overwrites the block's free-list link.
func (h *Header) SetNext(n *Header) { h.next = n }

// Payload returns the pointer to hand to a caller: the address just past
// the size field. Do not read this as a link field once it has been
// returned to a caller — the caller owns those bytes now.
func (h *Header) Payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), SizeFieldBytes)
}

// IsAdjacent reports whether b begins exactly where a ends, i.e. whether
// the two blocks are back to back in memory with no gap.
func IsAdjacent(a, b *Header) bool {
	return a.Addr()+a.Size() == b.Addr()
}

// Split carves a prefix of exactly s bytes off h, which must have
// Size() >= s. It returns the suffix header if S > s, or nil if s
// consumed the whole block. Neither the prefix nor the suffix is linked
// into any list; insertion is the caller's responsibility. The suffix's
// link field is left uninitialized.
func Split(h *Header, s uintptr) *Header {
	total := h.Size()
	if s > total {
		panic("block: split size exceeds block size")
	}
	if s == total {
		return nil
	}
	suffix := At(h.Addr() + s)
	suffix.SetSize(total - s)
	h.SetSize(s)
	return suffix
}
