package memutils

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/workbench/internal/utils"
)

type heapAllocation struct {
	raw  []byte
	size int
	tag  Tag
}

// HeapAllocator hands out memory from the Go heap. Every live allocation is tracked by address so
// that it stays reachable until it is freed and so that its size can be queried later. It is the
// fallback used by the stack and freelist allocators when a request does not fit their buffers.
type HeapAllocator struct {
	mutex       utils.OptionalMutex
	allocations *swiss.Map[uintptr, heapAllocation]
	bytes       int
}

var _ Allocator = &HeapAllocator{}

// NewHeapAllocator creates a HeapAllocator. If threadSafe is false, the consumer must guarantee that
// it is used from one goroutine at a time.
func NewHeapAllocator(threadSafe bool) *HeapAllocator {
	return &HeapAllocator{
		mutex:       utils.OptionalMutex{UseMutex: threadSafe},
		allocations: swiss.NewMap[uintptr, heapAllocation](16),
	}
}

func (h *HeapAllocator) Alloc(size int, tag Tag) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "heap allocation of %d bytes", size)
	}

	raw := make([]byte, size)
	h.track(raw, raw, tag)
	return raw, nil
}

func (h *HeapAllocator) AlignedAlloc(size int, alignment uint, tag Tag) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "heap allocation of %d bytes", size)
	}
	err := CheckAlignment(alignment)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, size+int(alignment))
	mem := AlignBytes(raw, size, alignment)
	h.track(raw, mem, tag)
	return mem, nil
}

func (h *HeapAllocator) track(raw, mem []byte, tag Tag) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.allocations.Put(Address(mem), heapAllocation{raw: raw, size: len(mem), tag: tag})
	h.bytes += len(mem)
}

func (h *HeapAllocator) Free(mem []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	addr := Address(mem)
	alloc, ok := h.allocations.Get(addr)
	DebugAssert(ok, "heap free of untracked address %#x", addr)
	if !ok {
		return errors.Wrapf(ErrUnknownPointer, "heap free of address %#x", addr)
	}

	h.allocations.Delete(addr)
	h.bytes -= alloc.size
	return nil
}

// AlignedFree releases memory returned by AlignedAlloc. Heap allocations are tracked by the address
// handed to the caller, so this is identical to Free.
func (h *HeapAllocator) AlignedFree(mem []byte) error {
	return h.Free(mem)
}

// Owns returns true if mem was handed out by this allocator and has not been freed
func (h *HeapAllocator) Owns(mem []byte) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.allocations.Has(Address(mem))
}

// Size returns the size that was requested for a live heap allocation
func (h *HeapAllocator) Size(mem []byte) (int, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	alloc, ok := h.allocations.Get(Address(mem))
	return alloc.size, ok
}

func (h *HeapAllocator) AllocationCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.allocations.Count()
}

// Clear forgets every live allocation, making them unreachable through this allocator
func (h *HeapAllocator) Clear() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.allocations = swiss.NewMap[uintptr, heapAllocation](16)
	h.bytes = 0
}

// AddStatistics adds heap allocations to the heap fields of stats
func (h *HeapAllocator) AddStatistics(stats *Statistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stats.HeapAllocationCount += h.allocations.Count()
	stats.HeapAllocationBytes += h.bytes
}

func (h *HeapAllocator) PrintDetailedMap(json *jwriter.ObjectState) {
	var stats Statistics
	h.AddStatistics(&stats)
	stats.PrintJson(json)
}
