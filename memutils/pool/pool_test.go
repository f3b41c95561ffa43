package pool_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/workbench/memutils"
	"github.com/vkngwrapper/workbench/memutils/pool"
)

func TestPoolAddressRoundTrip(t *testing.T) {
	p, err := pool.New(32, 16)
	require.NoError(t, err)

	first := make(map[uintptr]struct{})
	var items [][]byte
	for i := 0; i < 16; i++ {
		item, err := p.Alloc(32, memutils.TagNone)
		require.NoError(t, err)
		first[memutils.Address(item)] = struct{}{}
		items = append(items, item)
	}
	require.Len(t, first, 16)
	require.Equal(t, 1, p.BlockCount())

	for _, item := range items {
		require.NoError(t, p.Free(item))
	}
	require.Equal(t, 0, p.AllocationCount())

	second := make(map[uintptr]struct{})
	for i := 0; i < 16; i++ {
		item, err := p.Alloc(32, memutils.TagNone)
		require.NoError(t, err)
		second[memutils.Address(item)] = struct{}{}
	}

	require.Equal(t, first, second)
	require.Equal(t, 1, p.BlockCount())
	require.NoError(t, p.Validate())
}

func TestPoolGrowsByBlocks(t *testing.T) {
	p, err := pool.New(8, 4)
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		_, err := p.Alloc(8, memutils.TagNone)
		require.NoError(t, err)
	}

	require.Equal(t, 3, p.BlockCount())
	require.Equal(t, 9, p.AllocationCount())

	var stats memutils.Statistics
	p.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      3,
		BlockBytes:      96,
		AllocationCount: 9,
		AllocationBytes: 72,
	}, stats)
}

func TestPoolFirstFitReusesEarlierBlock(t *testing.T) {
	p, err := pool.New(16, 2)
	require.NoError(t, err)

	a, _ := p.Alloc(16, memutils.TagNone)
	_, _ = p.Alloc(16, memutils.TagNone)
	_, _ = p.Alloc(16, memutils.TagNone)
	require.Equal(t, 2, p.BlockCount())

	require.NoError(t, p.Free(a))

	reused, err := p.Alloc(16, memutils.TagNone)
	require.NoError(t, err)
	require.Equal(t, memutils.Address(a), memutils.Address(reused))
	require.Equal(t, 2, p.BlockCount())
}

func TestPoolClearKeepsBlocks(t *testing.T) {
	p, err := pool.New(16, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := p.Alloc(16, memutils.TagNone)
		require.NoError(t, err)
	}
	require.Equal(t, 3, p.BlockCount())

	p.Clear()
	require.Equal(t, 3, p.BlockCount())
	require.Equal(t, 0, p.AllocationCount())
	require.NoError(t, p.Validate())

	for i := 0; i < 6; i++ {
		_, err := p.Alloc(16, memutils.TagNone)
		require.NoError(t, err)
	}
	require.Equal(t, 3, p.BlockCount())
}

func TestPoolRejectsOversizedRequests(t *testing.T) {
	p, err := pool.New(16, 2)
	require.NoError(t, err)

	_, err = p.Alloc(17, memutils.TagNone)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)

	_, err = p.Alloc(0, memutils.TagNone)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)
}

func TestPoolAlignedAlloc(t *testing.T) {
	p, err := pool.New(64, 4)
	require.NoError(t, err)

	mem, err := p.AlignedAlloc(24, 16, memutils.TagNone)
	require.NoError(t, err)
	require.Len(t, mem, 24)
	require.Zero(t, memutils.Address(mem)%16)

	require.NoError(t, p.AlignedFree(mem))
	require.Equal(t, 0, p.AllocationCount())
	require.NoError(t, p.Validate())

	_, err = p.AlignedAlloc(60, 16, memutils.TagNone)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)
}

func TestPoolFreeForeignMemory(t *testing.T) {
	p, err := pool.New(16, 2)
	require.NoError(t, err)

	foreign := make([]byte, 16)
	if memutils.DebugEnabled {
		require.Panics(t, func() { _ = p.Free(foreign) })
		return
	}

	require.ErrorIs(t, p.Free(foreign), memutils.ErrUnknownPointer)
}
