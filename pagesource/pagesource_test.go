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

package pagesource

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObtainReturnsZeroedPage(t *testing.T) {
	s := New()
	n := s.PageSize()

	ptr, err := s.Obtain(n)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	b := unsafe.Slice((*byte)(ptr), n)
	for i, v := range b {
		require.Zerof(t, v, "byte %d not zeroed", i)
	}

	pages, bytes := s.Stats()
	assert.EqualValues(t, 1, pages)
	assert.EqualValues(t, n, bytes)
}

func TestObtainRejectsNonMultipleOfPageSize(t *testing.T) {
	s := New()
	_, err := s.Obtain(s.PageSize() + 1)
	assert.Error(t, err)

	_, err = s.Obtain(0)
	assert.Error(t, err)

	_, err = s.Obtain(-s.PageSize())
	assert.Error(t, err)
}

func TestStatsAccumulate(t *testing.T) {
	s := New()
	n := s.PageSize() * 3
	_, err := s.Obtain(n)
	require.NoError(t, err)
	_, err = s.Obtain(n)
	require.NoError(t, err)

	pages, bytes := s.Stats()
	assert.EqualValues(t, 6, pages)
	assert.EqualValues(t, 2*n, bytes)
}
