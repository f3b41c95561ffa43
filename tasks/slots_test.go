package tasks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotStackChunks(t *testing.T) {
	slots, err := newSlotStack()
	require.NoError(t, err)

	for slot := 0; slot < 3*slotsPerChunk+1; slot++ {
		slots.push(slot)
	}
	require.Equal(t, 3*slotsPerChunk+1, slots.Len())
	require.Equal(t, 4, slots.pool.AllocationCount())

	for slot := 3 * slotsPerChunk; slot >= 0; slot-- {
		popped, ok := slots.pop()
		require.True(t, ok)
		require.Equal(t, slot, popped)
	}

	_, ok := slots.pop()
	require.False(t, ok)
	require.Equal(t, 0, slots.pool.AllocationCount())
	require.NoError(t, slots.pool.Validate())
}

func TestJobIDLayout(t *testing.T) {
	id := makeJobID(6, 3)
	require.Equal(t, 6, id.Slot())
	require.Equal(t, uint32(3), id.Generation())
	require.Equal(t, "6:3", id.String())
	require.Equal(t, -1, JobID(0).Slot())

	// Slot 0 at generation 0 is still a valid, nonzero id
	require.NotZero(t, makeJobID(0, 0))
}
