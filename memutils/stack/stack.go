// Package stack provides bump-pointer allocators. Stack supports nested save/load checkpoints and
// is meant to be owned by a single goroutine. AtomicStack advances its offset with a compare-and-swap
// loop so that many goroutines can carve scratch memory from it at once, at the cost of only
// remembering a single checkpoint.
package stack

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/workbench/memutils"
	"golang.org/x/exp/slog"
)

const (
	// MaxSaveDepth is the number of nested Save calls a Stack can track
	MaxSaveDepth int = 8
)

// Stack is a bump allocator over a fixed buffer. Memory is reclaimed only by Load and Reset; Free
// does nothing for memory that came from the buffer. Requests that do not fit in the buffer fall back
// to the heap and log a warning, since they defeat the purpose of the allocator.
type Stack struct {
	logger *slog.Logger
	buffer []byte
	base   uintptr
	offset int

	saves     [MaxSaveDepth]int
	saveCount int

	heap *memutils.HeapAllocator
}

var _ memutils.Allocator = &Stack{}
var _ memutils.Checkpointer = &Stack{}

// New creates a Stack backed by a buffer of size bytes
func New(logger *slog.Logger, size int) (*Stack, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "stack buffer of %d bytes", size)
	}
	if logger == nil {
		logger = slog.Default()
	}

	buffer := make([]byte, size)
	return &Stack{
		logger: logger,
		buffer: buffer,
		base:   memutils.Address(buffer),
		heap:   memutils.NewHeapAllocator(false),
	}, nil
}

func (s *Stack) Size() int   { return len(s.buffer) }
func (s *Stack) Offset() int { return s.offset }

// SaveDepth returns the number of outstanding saves
func (s *Stack) SaveDepth() int { return s.saveCount }

func (s *Stack) contains(mem []byte) bool {
	addr := memutils.Address(mem)
	return addr >= s.base && addr < s.base+uintptr(len(s.buffer))
}

func (s *Stack) bump(size int) ([]byte, bool) {
	if s.offset+size > len(s.buffer) {
		return nil, false
	}

	mem := s.buffer[s.offset : s.offset+size : s.offset+size]
	s.offset += size
	return mem, true
}

func (s *Stack) Alloc(size int, tag memutils.Tag) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "stack allocation of %d bytes", size)
	}

	mem, ok := s.bump(size)
	if ok {
		return mem, nil
	}

	s.logger.Warn("Stack::Alloc overflowed the stack buffer, falling back to the heap",
		slog.Int("Size", size),
		slog.Int("Offset", s.offset),
		slog.Int("Capacity", len(s.buffer)))
	return s.heap.Alloc(size, tag)
}

func (s *Stack) AlignedAlloc(size int, alignment uint, tag memutils.Tag) ([]byte, error) {
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

	s.logger.Warn("Stack::AlignedAlloc overflowed the stack buffer, falling back to the heap",
		slog.Int("Size", size),
		slog.Int("Alignment", int(alignment)),
		slog.Int("Offset", s.offset),
		slog.Int("Capacity", len(s.buffer)))
	return s.heap.AlignedAlloc(size, alignment, tag)
}

// Free releases heap fallback allocations. Memory from the stack buffer is only reclaimed by Load or Reset.
func (s *Stack) Free(mem []byte) error {
	if s.contains(mem) {
		return nil
	}

	return s.heap.Free(mem)
}

func (s *Stack) AlignedFree(mem []byte) error {
	if s.contains(mem) {
		return nil
	}

	return s.heap.AlignedFree(mem)
}

// Save pushes the current offset onto the save stack
func (s *Stack) Save() error {
	memutils.DebugAssert(s.saveCount < MaxSaveDepth, "stack save depth of %d exceeded", MaxSaveDepth)
	if s.saveCount >= MaxSaveDepth {
		return errors.Wrapf(memutils.ErrSaveDepthExceeded, "maximum depth is %d", MaxSaveDepth)
	}

	s.saves[s.saveCount] = s.offset
	s.saveCount++
	return nil
}

// Load pops the most recent save, zeroes everything allocated since and restores the offset
func (s *Stack) Load() error {
	memutils.DebugAssert(s.saveCount > 0, "stack load without a matching save")
	if s.saveCount == 0 {
		return errors.Wrap(memutils.ErrSaveMismatch, "the save stack is empty")
	}

	saved := s.saves[s.saveCount-1]
	memutils.DebugAssert(saved <= s.offset, "saved offset %d is past the current offset %d", saved, s.offset)
	if saved > s.offset {
		return errors.Wrapf(memutils.ErrSaveMismatch, "saved offset %d is past the current offset %d", saved, s.offset)
	}

	s.saveCount--
	zero(s.buffer[saved:s.offset])
	s.offset = saved
	return nil
}

// Reset truncates the stack to zero, clears the save stack and releases heap fallbacks
func (s *Stack) Reset() {
	zero(s.buffer[:s.offset])
	s.offset = 0
	s.saveCount = 0
	s.heap.Clear()
}

func (s *Stack) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += len(s.buffer)
	stats.AllocationBytes += s.offset
	s.heap.AddStatistics(stats)
}

func (s *Stack) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("Type").String("Stack")
	json.Name("Size").Int(len(s.buffer))
	json.Name("Offset").Int(s.offset)
	json.Name("SaveDepth").Int(s.saveCount)
	json.Name("HeapAllocations").Int(s.heap.AllocationCount())
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
