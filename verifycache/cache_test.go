// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clrverify/verifier"
)

func TestKeyFor(t *testing.T) {
	a := []byte("MZ image a")
	b := []byte("MZ image b")

	assert.Equal(t, KeyFor(a, false), KeyFor(a, false))
	assert.NotEqual(t, KeyFor(a, false), KeyFor(b, false))
	assert.NotEqual(t, KeyFor(a, false), KeyFor(a, true))
}

func TestGetOrVerify(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	calls := 0
	verify := func() []*verifier.Result {
		calls++
		return []*verifier.Result{{Pass: verifier.PassPEStructure, Valid: true}}
	}

	k := KeyFor([]byte("image"), false)
	first, hit := c.GetOrVerify(k, verify)
	assert.False(t, hit)
	second, hit := c.GetOrVerify(k, verify)
	assert.True(t, hit)

	assert.Equal(t, 1, calls)
	assert.Same(t, first[0], second[0])

	stats := c.GetAndResetStatistics()
	assert.Equal(t, Statistics{Hit: 1, Miss: 1, Len: 1}, stats)
	assert.Equal(t, Statistics{Len: 1}, c.GetAndResetStatistics())
}

func TestEviction(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	keys := []Key{
		KeyFor([]byte("one"), false),
		KeyFor([]byte("two"), false),
		KeyFor([]byte("three"), false),
	}
	for _, k := range keys {
		c.Add(k, []*verifier.Result{{Valid: true}})
	}
	_, ok := c.Get(keys[0])
	assert.False(t, ok)
	_, ok = c.Get(keys[2])
	assert.True(t, ok)
}

func TestNewZeroSize(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
}
