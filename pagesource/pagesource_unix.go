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

// Package pagesource implements the one operation the allocator relies
// on but never implements itself: obtain(n), returning the starting
// address of a contiguous, zero-initialized, readable-and-writable
// region of exactly n bytes, aligned to the system page size, failing
// unrecoverably if it cannot. Memory obtained here is never returned.
package pagesource

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Source hands out fresh anonymous pages via mmap(2). Its zero value is
// not ready for use; construct one with New.
type Source struct {
	pageSize int

	pagesMapped uint64
	bytesMapped uint64
}

// New creates a page source sized to the host's native page size.
func New() *Source {
	return &Source{pageSize: unix.Getpagesize()}
}

// PageSize returns the host's page size in bytes.
func (s *Source) PageSize() int { return s.pageSize }

// Obtain returns the starting address of a fresh, zeroed, read/write
// region of exactly n bytes. n must be a positive multiple of the page
// size. A failure here is unrecoverable for the caller: page-source
// exhaustion is a process-abort condition, so Obtain does not retry or
// reclaim on the caller's behalf.
func (s *Source) Obtain(n int) (unsafe.Pointer, error) {
	if n <= 0 || n%s.pageSize != 0 {
		return nil, fmt.Errorf("pagesource: size %d is not a positive multiple of the page size (%d)", n, s.pageSize)
	}
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pagesource: mmap %d bytes: %w", n, err)
	}
	atomic.AddUint64(&s.pagesMapped, uint64(n/s.pageSize))
	atomic.AddUint64(&s.bytesMapped, uint64(n))
	return unsafe.Pointer(&b[0]), nil
}

// Stats reports pages and bytes obtained so far. There is no "unmapped"
// counter: this source never reclaims the regions it hands out.
func (s *Source) Stats() (pagesMapped, bytesMapped uint64) {
	return atomic.LoadUint64(&s.pagesMapped), atomic.LoadUint64(&s.bytesMapped)
}
