package freelist_test

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/workbench/memutils"
	"github.com/vkngwrapper/workbench/memutils/freelist"
)

type region struct {
	Offset int
	Size   int
	Free   bool
}

func regions(t *testing.T, f *freelist.Freelist) []region {
	var out []region
	err := f.VisitAllRegions(func(offset int, size int, tag memutils.Tag, free bool) error {
		out = append(out, region{Offset: offset, Size: size, Free: free})
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestFreelistInitialLayout(t *testing.T) {
	f, err := freelist.New(nil, 1024)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	require.Equal(t, []region{
		{Offset: freelist.HeaderSize, Size: 1024 - 2*freelist.HeaderSize, Free: true},
	}, regions(t, f))
	require.Equal(t, 1, f.FreeRegionsCount())
	require.Equal(t, 0, f.AllocationCount())
	require.Equal(t, 1024-2*freelist.HeaderSize, f.SumFreeSize())
}

func TestFreelistBufferSizeBounds(t *testing.T) {
	_, err := freelist.New(nil, freelist.MinBufferSize-1)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)

	tooLarge := freelist.MaxBufferSize
	tooLarge++
	_, err = freelist.New(nil, tooLarge)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)
}

func TestFreelistFirstFitReuse(t *testing.T) {
	f, err := freelist.New(nil, 1024)
	require.NoError(t, err)

	a, err := f.Alloc(100, 1)
	require.NoError(t, err)
	b, err := f.Alloc(100, 2)
	require.NoError(t, err)
	c, err := f.Alloc(100, 3)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	bAddr := memutils.Address(b)
	require.NoError(t, f.Free(b))
	require.NoError(t, f.Validate())

	d, err := f.Alloc(50, 4)
	require.NoError(t, err)
	require.Equal(t, bAddr, memutils.Address(d))
	require.NoError(t, f.Validate())

	// The tail of B's old chunk was split off and remains free
	bOffset := int(bAddr-memutils.Address(a)) + freelist.HeaderSize
	residualOffset := bOffset + 50 + freelist.HeaderSize
	found := false
	for _, r := range regions(t, f) {
		if r.Offset == residualOffset {
			found = true
			require.True(t, r.Free)
			require.Equal(t, 50-freelist.HeaderSize, r.Size)
		}
	}
	require.True(t, found)

	size, err := f.Size(d)
	require.NoError(t, err)
	require.Equal(t, 50, size)

	require.NoError(t, f.Free(a))
	require.NoError(t, f.Free(c))
	require.NoError(t, f.Free(d))
	require.NoError(t, f.Validate())
	require.Equal(t, 1, f.FreeRegionsCount())
	require.Equal(t, 1024-2*freelist.HeaderSize, f.SumFreeSize())
}

func TestFreelistCoalescing(t *testing.T) {
	allocFour := func() (*freelist.Freelist, [][]byte) {
		f, err := freelist.New(nil, 1024)
		require.NoError(t, err)

		var mems [][]byte
		for i := 0; i < 4; i++ {
			mem, err := f.Alloc(64, memutils.TagNone)
			require.NoError(t, err)
			mems = append(mems, mem)
		}
		return f, mems
	}

	separate, mems := allocFour()
	require.NoError(t, separate.Free(mems[0]))
	require.NoError(t, separate.Free(mems[2]))
	require.NoError(t, separate.Validate())

	adjacent, mems := allocFour()
	require.NoError(t, adjacent.Free(mems[0]))
	require.NoError(t, adjacent.Free(mems[1]))
	require.NoError(t, adjacent.Validate())

	require.Equal(t, separate.FreeRegionsCount()-1, adjacent.FreeRegionsCount())
}

func TestFreelistCoalesceBothNeighbors(t *testing.T) {
	f, err := freelist.New(nil, 1024)
	require.NoError(t, err)

	a, _ := f.Alloc(64, memutils.TagNone)
	b, _ := f.Alloc(64, memutils.TagNone)
	c, _ := f.Alloc(64, memutils.TagNone)
	guard, _ := f.Alloc(64, memutils.TagNone)

	require.NoError(t, f.Free(a))
	require.NoError(t, f.Free(c))
	require.Equal(t, 3, f.FreeRegionsCount())

	// b has a free chunk on both sides
	require.NoError(t, f.Free(b))
	require.NoError(t, f.Validate())
	require.Equal(t, 2, f.FreeRegionsCount())

	require.Equal(t, region{
		Offset: freelist.HeaderSize,
		Size:   3*64 + 2*freelist.HeaderSize,
		Free:   true,
	}, regions(t, f)[0])

	require.NoError(t, f.Free(guard))
	require.Equal(t, 1, f.FreeRegionsCount())
}

func TestFreelistConservation(t *testing.T) {
	f, err := freelist.New(nil, 16*1024)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	live := map[int][]byte{}
	expected := 0
	next := 0

	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for key, mem := range live {
				require.NoError(t, f.Free(mem))
				expected -= len(mem)
				delete(live, key)
				break
			}
		} else {
			size := rng.Intn(200) + 1
			mem, err := f.Alloc(size, memutils.Tag(size))
			if err != nil {
				require.ErrorIs(t, err, memutils.ErrOutOfMemory)
				continue
			}
			live[next] = mem
			next++
			expected += size
		}

		require.Equal(t, expected, f.AllocatedBytes())
	}

	require.NoError(t, f.Validate())

	for _, mem := range live {
		require.NoError(t, f.Free(mem))
	}
	require.NoError(t, f.Validate())
	require.Equal(t, 0, f.AllocatedBytes())
	require.Equal(t, 1, f.FreeRegionsCount())
}

func TestFreelistNoOverlap(t *testing.T) {
	f, err := freelist.New(nil, 4096)
	require.NoError(t, err)

	var mems [][]byte
	for i := 0; i < 20; i++ {
		mem, err := f.Alloc(i*7+1, memutils.TagNone)
		require.NoError(t, err)
		for j := range mem {
			mem[j] = byte(i)
		}
		mems = append(mems, mem)
	}
	require.NoError(t, f.Validate())

	for i, mem := range mems {
		for _, b := range mem {
			require.Equal(t, byte(i), b)
		}
	}
}

func TestFreelistOutOfMemory(t *testing.T) {
	f, err := freelist.New(nil, 256)
	require.NoError(t, err)

	_, err = f.Alloc(256, memutils.TagNone)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)

	mem, err := f.Alloc(256-2*freelist.HeaderSize, memutils.TagNone)
	require.NoError(t, err)
	require.Equal(t, 0, f.FreeRegionsCount())

	_, err = f.Alloc(1, memutils.TagNone)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)

	require.NoError(t, f.Free(mem))
	require.NoError(t, f.Validate())
}

func TestFreelistSmallRemainderIsNotSplit(t *testing.T) {
	f, err := freelist.New(nil, 256)
	require.NoError(t, err)

	capacity := 256 - 2*freelist.HeaderSize
	mem, err := f.Alloc(capacity-freelist.HeaderSize, memutils.TagNone)
	require.NoError(t, err)
	require.Equal(t, 0, f.FreeRegionsCount())

	size, err := f.Size(mem)
	require.NoError(t, err)
	require.Equal(t, capacity, size)
	require.NoError(t, f.Validate())
}

func TestFreelistHeapDelegation(t *testing.T) {
	f, err := freelist.New(nil, 1024)
	require.NoError(t, err)

	big, err := f.Alloc(freelist.HeapThreshold+1, memutils.TagNone)
	require.NoError(t, err)
	require.Len(t, big, freelist.HeapThreshold+1)
	require.Equal(t, 0, f.AllocationCount())

	size, err := f.Size(big)
	require.NoError(t, err)
	require.Equal(t, freelist.HeapThreshold+1, size)

	var stats memutils.Statistics
	f.AddStatistics(&stats)
	require.Equal(t, 1, stats.HeapAllocationCount)

	require.NoError(t, f.Free(big))

	stats.Clear()
	f.AddStatistics(&stats)
	require.Equal(t, 0, stats.HeapAllocationCount)
}

func TestFreelistAlignedAlloc(t *testing.T) {
	f, err := freelist.New(nil, 2048)
	require.NoError(t, err)

	var mems [][]byte
	for _, alignment := range []uint{1, 4, 16, 32, 128} {
		mem, err := f.AlignedAlloc(40, alignment, memutils.TagNone)
		require.NoError(t, err)
		require.Len(t, mem, 40)
		require.Zero(t, memutils.Address(mem)%uintptr(alignment))
		mems = append(mems, mem)
	}
	require.NoError(t, f.Validate())

	for _, mem := range mems {
		require.NoError(t, f.AlignedFree(mem))
	}
	require.NoError(t, f.Validate())
	require.Equal(t, 0, f.AllocationCount())
	require.Equal(t, 1, f.FreeRegionsCount())
}

func TestFreelistDoubleFree(t *testing.T) {
	f, err := freelist.New(nil, 1024)
	require.NoError(t, err)

	a, _ := f.Alloc(64, memutils.TagNone)
	_, _ = f.Alloc(64, memutils.TagNone)
	require.NoError(t, f.Free(a))

	if memutils.DebugEnabled {
		require.Panics(t, func() { _ = f.Free(a) })
		return
	}
	require.ErrorIs(t, f.Free(a), memutils.ErrDoubleFree)
}

func TestFreelistReset(t *testing.T) {
	f, err := freelist.New(nil, 1024)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.Alloc(32, memutils.TagNone)
		require.NoError(t, err)
	}
	_, err = f.Alloc(freelist.HeapThreshold*2, memutils.TagNone)
	require.NoError(t, err)

	f.Reset()
	require.NoError(t, f.Validate())
	require.Equal(t, 0, f.AllocationCount())

	var stats memutils.Statistics
	f.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{BlockCount: 1, BlockBytes: 1024}, stats)
}

func TestFreelistDetailedStatistics(t *testing.T) {
	f, err := freelist.New(nil, 1024)
	require.NoError(t, err)

	a, _ := f.Alloc(100, memutils.TagNone)
	_, _ = f.Alloc(200, memutils.TagNone)
	require.NoError(t, f.Free(a))

	var stats memutils.DetailedStatistics
	stats.Clear()
	f.AddDetailedStatistics(&stats)

	tail := 1024 - 2*freelist.HeaderSize - 2*freelist.HeaderSize - 300
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1024,
			AllocationCount: 1,
			AllocationBytes: 200,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  200,
		AllocationSizeMax:  200,
		UnusedRangeSizeMin: 100,
		UnusedRangeSizeMax: tail,
	}, stats)
}

func TestFreelistPrintDetailedMap(t *testing.T) {
	f, err := freelist.New(nil, 512)
	require.NoError(t, err)

	_, err = f.Alloc(64, memutils.Tag(0x2a))
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	f.PrintDetailedMap(&obj)
	obj.End()
	require.NoError(t, writer.Error())

	var out struct {
		Type           string
		TotalBytes     int
		Allocations    int
		UnusedRanges   int
		Suballocations []struct {
			Offset int
			Size   int
			Type   string
			Tag    string
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &out))

	require.Equal(t, "Freelist", out.Type)
	require.Equal(t, 512, out.TotalBytes)
	require.Equal(t, 1, out.Allocations)
	require.Equal(t, 1, out.UnusedRanges)
	require.Len(t, out.Suballocations, 2)
	require.Equal(t, "Allocated", out.Suballocations[0].Type)
	require.Equal(t, "0x2a", out.Suballocations[0].Tag)
	require.Equal(t, freelist.HeaderSize, out.Suballocations[0].Offset)
	require.Equal(t, "Free", out.Suballocations[1].Type)
}
