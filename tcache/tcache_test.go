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

package tcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zcorning/c-memory-allocator/arena"
	"github.com/zcorning/c-memory-allocator/internal/block"
	"github.com/zcorning/c-memory-allocator/pagesource"
)

// minOrder/topOrder chosen so 2^minOrder = 16 (header floor) and
// 2^topOrder = 4096 (page-sized chunk, matching the test page source).
const (
	testMinOrder = 4
	testTopOrder = 12
	testChunk    = 1 << testTopOrder
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	ps := pagesource.New()
	require.Equal(t, testChunk, ps.PageSize())
	a := arena.New(ps, testChunk)
	return New(a, testMinOrder, testTopOrder)
}

func TestAllocRefillsAndSplitsDown(t *testing.T) {
	c := newTestCache(t)
	h := c.Alloc(testMinOrder)
	require.NotNil(t, h)
	assert.EqualValues(t, 1<<testMinOrder, h.Size())

	refills, _ := c.Stats()
	assert.EqualValues(t, 1, refills)

	// Every intermediate order between minOrder and topOrder should now
	// hold exactly one leftover sibling.
	for order := testMinOrder; order < testTopOrder; order++ {
		assert.Equalf(t, 1, c.bucket(order).Len(), "order %d", order)
	}
}

func TestAllocPopsDirectHit(t *testing.T) {
	c := newTestCache(t)
	// Keep first's buddy allocated so that freeing first leaves it in
	// bucket(testMinOrder) instead of coalescing it back up to a chunk.
	_ = c.Alloc(testMinOrder)
	first := c.Alloc(testMinOrder)
	c.Free(first, testMinOrder)

	second := c.Alloc(testMinOrder)
	assert.Same(t, first, second, "freed block should be reused directly")

	refills, _ := c.Stats()
	assert.EqualValues(t, 1, refills, "second alloc should not trigger a refill")
}

func TestFreeCoalescesBuddiesUpToTopOrder(t *testing.T) {
	c := newTestCache(t)
	a := c.Alloc(testMinOrder)
	b := c.Alloc(testMinOrder)

	c.Free(a, testMinOrder)
	c.Free(b, testMinOrder)

	// a and b are buddies (split from the same chunk); freeing both
	// should fully recombine every order back up to a whole chunk sitting
	// in bucket(topOrder).
	for order := testMinOrder; order < testTopOrder; order++ {
		assert.Equalf(t, 0, c.bucket(order).Len(), "order %d should be empty after full recombination", order)
	}
	assert.EqualValues(t, 1, c.bucket(testTopOrder).Len())
}

func TestFreeDoesNotCoalesceNonBuddyAdjacentBlocks(t *testing.T) {
	c := newTestCache(t)

	// Eight successive Alloc(testMinOrder) calls against a single fresh
	// chunk hand out eight individually owned order-testMinOrder blocks
	// at consecutive addresses base, base+16, ..., base+112.
	blocks := make([]*block.Header, 8)
	addrs := make([]uintptr, 8)
	for i := range blocks {
		blocks[i] = c.Alloc(testMinOrder)
		addrs[i] = blocks[i].Addr()
	}

	blockSize := uintptr(1) << testMinOrder
	// blocks[3]'s buddy is blocks[2] and blocks[4]'s buddy is blocks[5];
	// blocks[3] and blocks[4] are merely memory-adjacent, not buddies.
	require.Equal(t, addrs[2], addrs[3]^blockSize, "test assumes this chunk layout")
	require.Equal(t, addrs[5], addrs[4]^blockSize, "test assumes this chunk layout")
	require.Equal(t, addrs[3]+blockSize, addrs[4], "blocks[3] and blocks[4] must be memory-adjacent for this regression to be meaningful")

	// Neither buddy (blocks[2] nor blocks[5]) has been freed, so freeing
	// blocks[3] then blocks[4] must leave two separate order-testMinOrder
	// entries rather than silently merging the adjacent-but-not-buddy pair
	// into a misaligned order-(testMinOrder+1) block.
	c.Free(blocks[3], testMinOrder)
	c.Free(blocks[4], testMinOrder)

	assert.Equal(t, 2, c.bucket(testMinOrder).Len(), "non-buddy adjacent blocks must not be coalesced")
	assert.Equal(t, 0, c.bucket(testMinOrder+1).Len(), "no order-%d block should have been produced", testMinOrder+1)
}

func TestSecondFullChunkTriggersPromotion(t *testing.T) {
	c := newTestCache(t)

	// Two concurrent whole-chunk allocations force two separate refills,
	// since the second Alloc runs before the first chunk is freed back
	// into bucket(topOrder).
	h1 := c.Alloc(testTopOrder)
	h2 := c.Alloc(testTopOrder)
	refills, _ := c.Stats()
	require.EqualValues(t, 2, refills)

	c.Free(h1, testTopOrder)
	assert.EqualValues(t, 1, c.bucket(testTopOrder).Len())
	_, promotions := c.Stats()
	require.Zero(t, promotions, "a single resident chunk must not be promoted")

	c.Free(h2, testTopOrder)
	_, promotions = c.Stats()
	assert.EqualValues(t, 1, promotions, "a second resident chunk should be promoted back to the arena")
	assert.EqualValues(t, 1, c.bucket(testTopOrder).Len(), "promotion should leave exactly one resident chunk")
}
