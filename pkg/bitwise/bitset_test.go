package bitwise

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Bitset_SetIsSetUnset(t *testing.T) {
	t.Parallel()

	b := NewBitset(4)

	assert.False(t, b.IsSet(1))
	b.Set(1)
	assert.True(t, b.IsSet(1))
	b.Unset(1)
	assert.False(t, b.IsSet(1))
}

func Test_Bitset_GrowsPastInitialCapacity(t *testing.T) {
	t.Parallel()

	b := NewBitset(4)
	b.Set(500)

	assert.True(t, b.IsSet(500))
	assert.False(t, b.IsSet(499))
	assert.False(t, b.IsSet(501))
}

func Test_Bitset_Reset(t *testing.T) {
	t.Parallel()

	b := NewBitset(64)
	b.Set(1)
	b.Set(63)
	b.Reset()

	assert.False(t, b.IsSet(1))
	assert.False(t, b.IsSet(63))
}
