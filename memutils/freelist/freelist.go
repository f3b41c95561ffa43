// Package freelist provides a variable-size allocator over a single fixed buffer. Chunks are carved from
// the buffer first-fit, split when the remainder is large enough to hold another chunk, and coalesced with
// their physical neighbors when freed. Requests above HeapThreshold bypass the buffer and go to the heap.
package freelist

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/workbench/memutils"
	"golang.org/x/exp/slog"
)

const (
	// HeapThreshold is the largest request that will be served from the buffer
	HeapThreshold int = 8 * 1024
	// MinBufferSize is the smallest buffer that can hold one usable chunk and the tail sentinel
	MinBufferSize int = 2*HeaderSize + 1
	// MaxBufferSize is the largest buffer whose offsets fit in a chunk header
	MaxBufferSize int = math.MaxInt32
)

// Freelist is a variable-size allocator. It is not safe for concurrent use.
//
// The buffer is always fully covered by chunks: the sum of every chunk's header and payload is the
// buffer size. The final chunk is a zero-size sentinel that is permanently allocated, which bounds
// the forward neighbor lookup during coalescing.
type Freelist struct {
	logger *slog.Logger
	buffer []byte
	base   uintptr

	sentinel       int
	freeList       chunkList
	allocList      chunkList
	requestedBytes int

	heap *memutils.HeapAllocator
}

var _ memutils.Allocator = &Freelist{}

// New creates a Freelist that manages a buffer of bufferSize bytes
func New(logger *slog.Logger, bufferSize int) (*Freelist, error) {
	if bufferSize < MinBufferSize {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "freelist buffers must be at least %d bytes, got %d", MinBufferSize, bufferSize)
	}
	if bufferSize > MaxBufferSize {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "freelist buffers must be at most %d bytes, got %d", MaxBufferSize, bufferSize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	buffer := make([]byte, bufferSize)
	f := &Freelist{
		logger: logger,
		buffer: buffer,
		base:   memutils.Address(buffer),
		heap:   memutils.NewHeapAllocator(false),
	}
	f.seed()

	return f, nil
}

func (f *Freelist) seed() {
	f.sentinel = len(f.buffer) - HeaderSize
	f.freeList = chunkList{head: noChunk}
	f.allocList = chunkList{head: noChunk}
	f.requestedBytes = 0

	first := chunk{
		offset:   0,
		state:    chunkFree,
		size:     f.sentinel - HeaderSize,
		prev:     noChunk,
		listPrev: noChunk,
		listNext: noChunk,
	}
	f.pushFront(&f.freeList, &first)
	f.store(&first)

	tail := chunk{
		offset:   f.sentinel,
		state:    chunkAllocated,
		prev:     0,
		listPrev: noChunk,
		listNext: noChunk,
	}
	f.store(&tail)
}

// BufferSize returns the number of bytes in the managed buffer
func (f *Freelist) BufferSize() int { return len(f.buffer) }

// AllocationCount returns the number of live allocations served from the buffer
func (f *Freelist) AllocationCount() int { return f.allocList.count }

// FreeRegionsCount returns the number of free chunks in the buffer
func (f *Freelist) FreeRegionsCount() int { return f.freeList.count }

// AllocatedBytes returns the sum of the sizes requested by live allocations in the buffer
func (f *Freelist) AllocatedBytes() int { return f.requestedBytes }

// SumFreeSize returns the number of payload bytes held by free chunks
func (f *Freelist) SumFreeSize() int {
	var sum int
	for offset := f.freeList.head; offset != noChunk; {
		c := f.chunkAt(offset)
		sum += c.size
		offset = c.listNext
	}
	return sum
}

func (f *Freelist) contains(addr uintptr) bool {
	return addr >= f.base && addr < f.base+uintptr(len(f.buffer))
}

func (f *Freelist) Alloc(size int, tag memutils.Tag) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "freelist allocation of %d bytes", size)
	}

	if size > HeapThreshold {
		f.logger.Debug("Freelist::Alloc delegating to the heap", slog.Int("Size", size))
		return f.heap.Alloc(size, tag)
	}

	return f.allocChunk(size, tag)
}

func (f *Freelist) allocChunk(size int, tag memutils.Tag) ([]byte, error) {
	memutils.DebugValidate(f)

	offset := f.freeList.head
	var c chunk
	for offset != noChunk {
		c = f.chunkAt(offset)
		if c.size >= size {
			break
		}
		offset = c.listNext
	}

	if offset == noChunk {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "no free chunk can hold %d bytes", size)
	}

	f.unlink(&f.freeList, &c)

	remainder := c.size - size
	if remainder > HeaderSize {
		split := chunk{
			offset:   c.payload() + size,
			state:    chunkFree,
			size:     remainder - HeaderSize,
			prev:     c.offset,
			listPrev: noChunk,
			listNext: noChunk,
		}
		f.putInt32(split.next(), prevOffset, split.offset)
		f.pushFront(&f.freeList, &split)
		f.store(&split)

		c.size = size
	}

	c.state = chunkAllocated
	c.requested = size
	c.tag = tag
	f.pushFront(&f.allocList, &c)
	f.store(&c)
	f.requestedBytes += size

	start := c.payload()
	return f.buffer[start : start+size : start+size], nil
}

func (f *Freelist) AlignedAlloc(size int, alignment uint, tag memutils.Tag) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "freelist allocation of %d bytes", size)
	}
	err := memutils.CheckAlignment(alignment)
	if err != nil {
		return nil, err
	}

	total := size + int(alignment)
	if total > HeapThreshold {
		f.logger.Debug("Freelist::AlignedAlloc delegating to the heap", slog.Int("Size", size), slog.Int("Alignment", int(alignment)))
		return f.heap.AlignedAlloc(size, alignment, tag)
	}

	raw, err := f.allocChunk(total, tag)
	if err != nil {
		return nil, err
	}

	return memutils.AlignBytes(raw, size, alignment), nil
}

// Free returns memory from Alloc. Memory outside the buffer is handed to the heap.
func (f *Freelist) Free(mem []byte) error {
	addr := memutils.Address(mem)
	if !f.contains(addr) {
		return f.heap.Free(mem)
	}

	return f.freeChunk(int(addr-f.base) - HeaderSize)
}

// AlignedFree returns memory from AlignedAlloc
func (f *Freelist) AlignedFree(mem []byte) error {
	addr := memutils.Address(mem)
	if !f.contains(addr) {
		return f.heap.AlignedFree(mem)
	}

	raw := int(addr-f.base) - memutils.ReadAdjustment(mem)
	return f.freeChunk(raw - HeaderSize)
}

func (f *Freelist) lookupAllocated(offset int) (chunk, error) {
	if offset < 0 || offset >= f.sentinel {
		memutils.DebugAssert(false, "offset %d does not hold a chunk header", offset)
		return chunk{}, errors.Wrapf(memutils.ErrUnknownPointer, "offset %d does not hold a chunk header", offset)
	}

	c := f.chunkAt(offset)
	memutils.DebugAssert(c.magic == chunkMagic, "offset %d does not hold a chunk header", offset)
	if c.magic != chunkMagic {
		return chunk{}, errors.Wrapf(memutils.ErrUnknownPointer, "offset %d does not hold a chunk header", offset)
	}

	memutils.DebugAssert(!c.isFree(), "double free of chunk at offset %d", offset)
	if c.isFree() {
		return chunk{}, errors.Wrapf(memutils.ErrDoubleFree, "chunk at offset %d", offset)
	}

	return c, nil
}

func (f *Freelist) freeChunk(offset int) error {
	c, err := f.lookupAllocated(offset)
	if err != nil {
		return err
	}

	f.requestedBytes -= c.requested
	c.requested = 0
	c.tag = memutils.TagNone

	// Absorb the next chunk if it is free
	next := f.chunkAt(c.next())
	if next.isFree() {
		f.unlink(&f.freeList, &next)
		c.size += HeaderSize + next.size
		f.clearHeader(next.offset)
		f.putInt32(c.next(), prevOffset, c.offset)
	}

	// Fold this chunk into the previous chunk if that one is free
	if c.prev != noChunk {
		prev := f.chunkAt(c.prev)
		if prev.isFree() {
			f.unlink(&f.allocList, &c)
			prev.size += HeaderSize + c.size
			f.store(&prev)
			f.clearHeader(c.offset)
			f.putInt32(prev.next(), prevOffset, prev.offset)

			memutils.DebugValidate(f)
			return nil
		}
	}

	f.unlink(&f.allocList, &c)
	c.state = chunkFree
	f.pushFront(&f.freeList, &c)
	f.store(&c)

	memutils.DebugValidate(f)
	return nil
}

// Size returns the payload size of the chunk that holds mem, which must have come from Alloc. For memory
// that was delegated to the heap, the heap-tracked size is returned.
func (f *Freelist) Size(mem []byte) (int, error) {
	addr := memutils.Address(mem)
	if !f.contains(addr) {
		size, ok := f.heap.Size(mem)
		if !ok {
			return 0, errors.Wrapf(memutils.ErrUnknownPointer, "address %#x", addr)
		}
		return size, nil
	}

	c, err := f.lookupAllocated(int(addr-f.base) - HeaderSize)
	if err != nil {
		return 0, err
	}
	return c.size, nil
}

// Reset frees every allocation at once, including heap delegations
func (f *Freelist) Reset() {
	zero(f.buffer)
	f.seed()
	f.heap.Clear()
}

// VisitAllRegions calls the provided callback for each chunk in physical order, excluding the tail sentinel.
// offset is the offset of the chunk's payload within the buffer.
func (f *Freelist) VisitAllRegions(handleRegion func(offset int, size int, tag memutils.Tag, free bool) error) error {
	for offset := 0; offset < f.sentinel; {
		c := f.chunkAt(offset)
		err := handleRegion(c.payload(), c.size, c.tag, c.isFree())
		if err != nil {
			return err
		}
		offset = c.next()
	}

	return nil
}

// Validate walks the physical chunk chain and both lists and checks that they agree
func (f *Freelist) Validate() error {
	var total, freeCount, allocCount, requested int
	prev := noChunk
	prevFree := false

	offset := 0
	for offset < f.sentinel {
		c := f.chunkAt(offset)
		if c.magic != chunkMagic {
			return errors.Errorf("chunk at offset %d has a corrupt header", offset)
		}
		if c.prev != prev {
			return errors.Errorf("chunk at offset %d lists %d as its previous chunk, expected %d", offset, c.prev, prev)
		}

		if c.isFree() {
			if prevFree {
				return errors.Errorf("chunk at offset %d is free but its previous chunk was not coalesced with it", offset)
			}
			freeCount++
		} else {
			allocCount++
			requested += c.requested
			if c.requested > c.size {
				return errors.Errorf("chunk at offset %d holds %d requested bytes in a %d byte payload", offset, c.requested, c.size)
			}
		}

		total += HeaderSize + c.size
		prevFree = c.isFree()
		prev = offset
		offset = c.next()
	}

	if offset != f.sentinel {
		return errors.Errorf("the physical chunk chain ended at offset %d instead of the sentinel at %d", offset, f.sentinel)
	}

	tail := f.chunkAt(f.sentinel)
	if tail.magic != chunkMagic || tail.size != 0 || tail.isFree() {
		return errors.New("the tail sentinel chunk is corrupt")
	}
	if tail.prev != prev {
		return errors.Errorf("the tail sentinel lists %d as its previous chunk, expected %d", tail.prev, prev)
	}

	total += HeaderSize
	if total != len(f.buffer) {
		return errors.Errorf("chunks add up to %d bytes, but the buffer is %d bytes", total, len(f.buffer))
	}

	err := f.validateList(&f.freeList, chunkFree, freeCount)
	if err != nil {
		return err
	}
	err = f.validateList(&f.allocList, chunkAllocated, allocCount)
	if err != nil {
		return err
	}

	if requested != f.requestedBytes {
		return errors.Errorf("allocated chunks hold %d requested bytes, but the freelist reports %d", requested, f.requestedBytes)
	}

	return nil
}

func (f *Freelist) validateList(list *chunkList, state chunkState, expected int) error {
	count := 0
	prev := noChunk
	for offset := list.head; offset != noChunk; {
		c := f.chunkAt(offset)
		if c.state != state {
			return errors.Errorf("chunk at offset %d is in the %s list but is %s", offset, state, c.state)
		}
		if c.listPrev != prev {
			return errors.Errorf("chunk at offset %d has a broken reverse link in the %s list", offset, state)
		}

		count++
		if count > expected {
			return errors.Errorf("the %s list holds more than the %d chunks found in the buffer", state, expected)
		}
		prev = offset
		offset = c.listNext
	}

	if count != expected || list.count != expected {
		return errors.Errorf("the %s list holds %d chunks and reports %d, but the buffer holds %d", state, count, list.count, expected)
	}

	return nil
}

func (f *Freelist) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += len(f.buffer)
	stats.AllocationCount += f.allocList.count
	stats.AllocationBytes += f.requestedBytes
	f.heap.AddStatistics(stats)
}

func (f *Freelist) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += len(f.buffer)

	_ = f.VisitAllRegions(func(offset int, size int, tag memutils.Tag, free bool) error {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
	f.heap.AddStatistics(&stats.Statistics)
}

func (f *Freelist) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("Type").String("Freelist")
	json.Name("TotalBytes").Int(len(f.buffer))
	json.Name("UnusedBytes").Int(f.SumFreeSize())
	json.Name("Allocations").Int(f.allocList.count)
	json.Name("UnusedRanges").Int(f.freeList.count)
	json.Name("HeapAllocations").Int(f.heap.AllocationCount())

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = f.VisitAllRegions(func(offset int, size int, tag memutils.Tag, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String(chunkFree.String())
		} else {
			obj.Name("Type").String(chunkAllocated.String())
			obj.Name("Tag").String(fmt.Sprintf("%#x", uint32(tag)))
		}
		return nil
	})
}
