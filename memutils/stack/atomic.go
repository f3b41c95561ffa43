package stack

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/workbench/memutils"
	"golang.org/x/exp/slog"
)

const noSave int64 = -1

// AtomicStack is a bump allocator that may be allocated from by many goroutines at once. The offset is
// advanced with a compare-and-swap retry loop, so no lock is taken on the allocation path.
//
// Unlike Stack, AtomicStack only remembers one checkpoint: a second Save replaces the first. Save, Load and
// Reset must not race with allocations.
type AtomicStack struct {
	logger *slog.Logger
	buffer []byte
	base   uintptr
	offset atomic.Int64
	saved  atomic.Int64

	heap *memutils.HeapAllocator
}

var _ memutils.Allocator = &AtomicStack{}
var _ memutils.Checkpointer = &AtomicStack{}

// NewAtomic creates an AtomicStack backed by a buffer of size bytes
func NewAtomic(logger *slog.Logger, size int) (*AtomicStack, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "stack buffer of %d bytes", size)
	}
	if logger == nil {
		logger = slog.Default()
	}

	buffer := make([]byte, size)
	s := &AtomicStack{
		logger: logger,
		buffer: buffer,
		base:   memutils.Address(buffer),
		heap:   memutils.NewHeapAllocator(true),
	}
	s.saved.Store(noSave)
	return s, nil
}

func (s *AtomicStack) Size() int   { return len(s.buffer) }
func (s *AtomicStack) Offset() int { return int(s.offset.Load()) }

// HasSave returns true if a checkpoint is waiting to be loaded
func (s *AtomicStack) HasSave() bool { return s.saved.Load() != noSave }

func (s *AtomicStack) contains(mem []byte) bool {
	addr := memutils.Address(mem)
	return addr >= s.base && addr < s.base+uintptr(len(s.buffer))
}

func (s *AtomicStack) bump(size int) ([]byte, bool) {
	for {
		current := s.offset.Load()
		target := current + int64(size)

		if target > int64(len(s.buffer)) {
			return nil, false
		}

		if s.offset.CompareAndSwap(current, target) {
			return s.buffer[current:target:target], true
		}
	}
}

func (s *AtomicStack) Alloc(size int, tag memutils.Tag) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "stack allocation of %d bytes", size)
	}

	mem, ok := s.bump(size)
	if ok {
		return mem, nil
	}

	s.logger.Warn("AtomicStack::Alloc overflowed the stack buffer, falling back to the heap",
		slog.Int("Size", size),
		slog.Int("Capacity", len(s.buffer)))
	return s.heap.Alloc(size, tag)
}

func (s *AtomicStack) AlignedAlloc(size int, alignment uint, tag memutils.Tag) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "stack allocation of %d bytes", size)
	}
	err := memutils.CheckAlignment(alignment)
	if err != nil {
		return nil, err
	}

	raw, ok := s.bump(size + int(alignment))
	if ok {
		return memutils.AlignBytes(raw, size, alignment), nil
	}

	s.logger.Warn("AtomicStack::AlignedAlloc overflowed the stack buffer, falling back to the heap",
		slog.Int("Size", size),
		slog.Int("Alignment", int(alignment)),
		slog.Int("Capacity", len(s.buffer)))
	return s.heap.AlignedAlloc(size, alignment, tag)
}

func (s *AtomicStack) Free(mem []byte) error {
	if s.contains(mem) {
		return nil
	}

	return s.heap.Free(mem)
}

func (s *AtomicStack) AlignedFree(mem []byte) error {
	if s.contains(mem) {
		return nil
	}

	return s.heap.AlignedFree(mem)
}

// Save records the current offset, replacing any previous checkpoint
func (s *AtomicStack) Save() error {
	s.saved.Store(s.offset.Load())
	return nil
}

// Load restores the checkpoint recorded by Save and zeroes everything allocated since
func (s *AtomicStack) Load() error {
	saved := s.saved.Swap(noSave)
	memutils.DebugAssert(saved != noSave, "atomic stack load without a matching save")
	if saved == noSave {
		return errors.Wrap(memutils.ErrSaveMismatch, "no checkpoint has been saved")
	}

	current := s.offset.Load()
	memutils.DebugAssert(saved <= current, "saved offset %d is past the current offset %d", saved, current)
	if saved > current {
		return errors.Wrapf(memutils.ErrSaveMismatch, "saved offset %d is past the current offset %d", saved, current)
	}

	zero(s.buffer[saved:current])
	s.offset.Store(saved)
	return nil
}

// Reset truncates the stack to zero, forgets the checkpoint and releases heap fallbacks
func (s *AtomicStack) Reset() {
	zero(s.buffer[:s.offset.Load()])
	s.offset.Store(0)
	s.saved.Store(noSave)
	s.heap.Clear()
}

func (s *AtomicStack) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += len(s.buffer)
	stats.AllocationBytes += int(s.offset.Load())
	s.heap.AddStatistics(stats)
}

func (s *AtomicStack) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("Type").String("AtomicStack")
	json.Name("Size").Int(len(s.buffer))
	json.Name("Offset").Int(s.Offset())
	json.Name("HasSave").Bool(s.HasSave())
	json.Name("HeapAllocations").Int(s.heap.AllocationCount())
}
