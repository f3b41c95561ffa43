package stack_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/workbench/memutils"
	"github.com/vkngwrapper/workbench/memutils/stack"
)

func TestStackBumpAlloc(t *testing.T) {
	s, err := stack.New(nil, 256)
	require.NoError(t, err)

	a, err := s.Alloc(10, memutils.TagNone)
	require.NoError(t, err)
	b, err := s.Alloc(20, memutils.TagNone)
	require.NoError(t, err)

	require.Len(t, a, 10)
	require.Len(t, b, 20)
	require.Equal(t, memutils.Address(a)+10, memutils.Address(b))
	require.Equal(t, 30, s.Offset())
}

func TestStackSaveLoadIdentity(t *testing.T) {
	s, err := stack.New(nil, 1024)
	require.NoError(t, err)

	_, err = s.Alloc(40, memutils.TagNone)
	require.NoError(t, err)

	for depth := 0; depth < stack.MaxSaveDepth; depth++ {
		before := s.Offset()
		require.NoError(t, s.Save())
		_, err = s.Alloc(16*(depth+1), memutils.TagNone)
		require.NoError(t, err)
		require.NoError(t, s.Load())
		require.Equal(t, before, s.Offset())
	}
}

func TestStackNestedSaves(t *testing.T) {
	s, err := stack.New(nil, 1024)
	require.NoError(t, err)

	var offsets []int
	for i := 0; i < stack.MaxSaveDepth; i++ {
		offsets = append(offsets, s.Offset())
		require.NoError(t, s.Save())
		_, err = s.Alloc(8, memutils.TagNone)
		require.NoError(t, err)
	}
	require.Equal(t, stack.MaxSaveDepth, s.SaveDepth())

	for i := stack.MaxSaveDepth - 1; i >= 0; i-- {
		require.NoError(t, s.Load())
		require.Equal(t, offsets[i], s.Offset())
	}
	require.Equal(t, 0, s.SaveDepth())
}

func TestStackSaveDepthExceeded(t *testing.T) {
	s, err := stack.New(nil, 1024)
	require.NoError(t, err)

	for i := 0; i < stack.MaxSaveDepth; i++ {
		require.NoError(t, s.Save())
	}

	if memutils.DebugEnabled {
		require.Panics(t, func() { _ = s.Save() })
		return
	}
	require.ErrorIs(t, s.Save(), memutils.ErrSaveDepthExceeded)
}

func TestStackLoadWithoutSave(t *testing.T) {
	s, err := stack.New(nil, 64)
	require.NoError(t, err)

	if memutils.DebugEnabled {
		require.Panics(t, func() { _ = s.Load() })
		return
	}
	require.ErrorIs(t, s.Load(), memutils.ErrSaveMismatch)
}

func TestStackLoadZeroesDiscardedRegion(t *testing.T) {
	s, err := stack.New(nil, 64)
	require.NoError(t, err)

	require.NoError(t, s.Save())
	mem, err := s.Alloc(16, memutils.TagNone)
	require.NoError(t, err)
	for i := range mem {
		mem[i] = 0xAB
	}

	require.NoError(t, s.Load())
	require.Equal(t, make([]byte, 16), mem)
}

func TestStackHeapFallback(t *testing.T) {
	s, err := stack.New(nil, 32)
	require.NoError(t, err)

	_, err = s.Alloc(24, memutils.TagNone)
	require.NoError(t, err)

	big, err := s.Alloc(64, memutils.TagNone)
	require.NoError(t, err)
	require.Len(t, big, 64)
	require.Equal(t, 24, s.Offset())

	var stats memutils.Statistics
	s.AddStatistics(&stats)
	require.Equal(t, 1, stats.HeapAllocationCount)
	require.Equal(t, 64, stats.HeapAllocationBytes)

	require.NoError(t, s.Free(big))

	stats.Clear()
	s.AddStatistics(&stats)
	require.Equal(t, 0, stats.HeapAllocationCount)
}

func TestStackAlignedAlloc(t *testing.T) {
	s, err := stack.New(nil, 512)
	require.NoError(t, err)

	_, err = s.Alloc(3, memutils.TagNone)
	require.NoError(t, err)

	for _, alignment := range []uint{1, 2, 8, 16, 64, 128} {
		mem, err := s.AlignedAlloc(10, alignment, memutils.TagNone)
		require.NoError(t, err)
		require.Zero(t, memutils.Address(mem)%uintptr(alignment))
		adjustment := memutils.ReadAdjustment(mem)
		require.GreaterOrEqual(t, adjustment, 1)
		require.LessOrEqual(t, adjustment, int(alignment))
		require.NoError(t, s.AlignedFree(mem))
	}

	_, err = s.AlignedAlloc(10, 3, memutils.TagNone)
	require.ErrorIs(t, err, memutils.ErrPowerOfTwo)
}

func TestStackReset(t *testing.T) {
	s, err := stack.New(nil, 64)
	require.NoError(t, err)

	require.NoError(t, s.Save())
	_, err = s.Alloc(32, memutils.TagNone)
	require.NoError(t, err)

	s.Reset()
	require.Equal(t, 0, s.Offset())
	require.Equal(t, 0, s.SaveDepth())
}

func TestAtomicStackConcurrentAlloc(t *testing.T) {
	const workers = 8
	const perWorker = 64

	s, err := stack.NewAtomic(nil, workers*perWorker*8)
	require.NoError(t, err)

	addrs := make([][]uintptr, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				mem, err := s.Alloc(8, memutils.TagNone)
				if err != nil {
					return
				}
				addrs[w] = append(addrs[w], memutils.Address(mem))
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[uintptr]struct{})
	for _, list := range addrs {
		require.Len(t, list, perWorker)
		for _, addr := range list {
			_, dup := seen[addr]
			require.False(t, dup)
			seen[addr] = struct{}{}
		}
	}
	require.Equal(t, workers*perWorker*8, s.Offset())
}

func TestAtomicStackSingleCheckpoint(t *testing.T) {
	s, err := stack.NewAtomic(nil, 256)
	require.NoError(t, err)

	_, err = s.Alloc(16, memutils.TagNone)
	require.NoError(t, err)
	require.NoError(t, s.Save())

	_, err = s.Alloc(16, memutils.TagNone)
	require.NoError(t, err)
	// A second save replaces the first rather than nesting
	require.NoError(t, s.Save())

	_, err = s.Alloc(16, memutils.TagNone)
	require.NoError(t, err)

	require.NoError(t, s.Load())
	require.Equal(t, 32, s.Offset())
	require.False(t, s.HasSave())

	if memutils.DebugEnabled {
		require.Panics(t, func() { _ = s.Load() })
		return
	}
	require.ErrorIs(t, s.Load(), memutils.ErrSaveMismatch)
}

func TestAtomicStackSaveLoadIdentity(t *testing.T) {
	s, err := stack.NewAtomic(nil, 256)
	require.NoError(t, err)

	_, err = s.Alloc(24, memutils.TagNone)
	require.NoError(t, err)

	before := s.Offset()
	require.NoError(t, s.Save())
	require.NoError(t, s.Load())
	require.Equal(t, before, s.Offset())
}
