package syncmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrInsertSameKeyReturnsSameSlot(t *testing.T) {
	m := New()

	a := m.GetOrInsert("fd")
	b := m.GetOrInsert("fd")
	require.Same(t, a, b)
	assert.Equal(t, "fd", a.Key())
	assert.Nil(t, a.Value)
	assert.Equal(t, 1, m.Len())
}

func TestGetOrInsertDistinctKeys(t *testing.T) {
	m := New()

	a := m.GetOrInsert("fd")
	b := m.GetOrInsert("sock")
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, m.Len())
}

func TestSlotAddressStableAcrossGrowth(t *testing.T) {
	m := New()

	first := m.GetOrInsert("first")
	first.Value = 42
	for i := 0; i < 1000; i++ {
		m.GetOrInsert(string(rune('a'+i%26)) + string(rune('0'+i%10)))
	}
	again := m.GetOrInsert("first")
	require.Same(t, first, again)
	assert.Equal(t, 42, again.Value)
}

func TestFreezeAllowsExistingKeys(t *testing.T) {
	m := New()
	slot := m.GetOrInsert("fd")
	slot.Value = "shared"

	m.Freeze()
	require.True(t, m.Frozen())

	assert.NotPanics(t, func() {
		got := m.GetOrInsert("fd")
		assert.Equal(t, "shared", got.Value)
	})
}

func TestFreezeRejectsNewKeys(t *testing.T) {
	m := New()
	m.GetOrInsert("fd")
	m.Freeze()

	assert.Panics(t, func() {
		m.GetOrInsert("late")
	})
}
