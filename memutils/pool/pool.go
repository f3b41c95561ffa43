// Package pool provides a fixed-size-block allocator. A Pool hands out equally-sized slots carved
// from blocks of memory. When every block is full a new block is appended; blocks are never released
// until the whole pool is destroyed, which trades peak memory for allocation speed and freedom from
// fragmentation.
package pool

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/workbench/memutils"
)

type poolBlock struct {
	buffer []byte
	base   uintptr
	// freeSlots is a stack of free slot offsets within buffer
	freeSlots []int
	// remaining is the number of entries of freeSlots that are live
	remaining int
}

func (b *poolBlock) contains(addr uintptr) bool {
	return addr >= b.base && addr < b.base+uintptr(len(b.buffer))
}

func (b *poolBlock) isFree(offset int) bool {
	for i := 0; i < b.remaining; i++ {
		if b.freeSlots[i] == offset {
			return true
		}
	}
	return false
}

func (b *poolBlock) seed(itemSize int) {
	count := len(b.freeSlots)
	// Push in reverse so that the lowest slot is popped first
	for i := 0; i < count; i++ {
		b.freeSlots[i] = (count - 1 - i) * itemSize
	}
	b.remaining = count
}

// Pool is a fixed-size-block allocator. It is not safe for concurrent use.
type Pool struct {
	itemSize      int
	itemsPerBlock int
	blocks        []*poolBlock
	allocCount    int
}

var _ memutils.Allocator = &Pool{}

// New creates a Pool whose slots are itemSize bytes and whose blocks hold itemsPerBlock slots each.
// The first block is created immediately.
func New(itemSize, itemsPerBlock int) (*Pool, error) {
	if itemSize <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "item size %d", itemSize)
	}
	if itemsPerBlock <= 0 {
		return nil, errors.Newf("items per block must be positive, got %d", itemsPerBlock)
	}

	p := &Pool{
		itemSize:      itemSize,
		itemsPerBlock: itemsPerBlock,
	}
	p.addBlock()

	return p, nil
}

func (p *Pool) ItemSize() int      { return p.itemSize }
func (p *Pool) ItemsPerBlock() int { return p.itemsPerBlock }
func (p *Pool) BlockCount() int    { return len(p.blocks) }

// AllocationCount returns the number of slots currently handed out
func (p *Pool) AllocationCount() int { return p.allocCount }

func (p *Pool) addBlock() *poolBlock {
	block := &poolBlock{
		buffer:    make([]byte, p.itemSize*p.itemsPerBlock),
		freeSlots: make([]int, p.itemsPerBlock),
	}
	block.base = memutils.Address(block.buffer)
	block.seed(p.itemSize)
	p.blocks = append(p.blocks, block)

	return block
}

// AllocItem returns one slot. The pool grows by a whole block if every existing block is full.
func (p *Pool) AllocItem() []byte {
	var block *poolBlock
	for _, candidate := range p.blocks {
		if candidate.remaining > 0 {
			block = candidate
			break
		}
	}

	if block == nil {
		block = p.addBlock()
	}

	block.remaining--
	offset := block.freeSlots[block.remaining]
	p.allocCount++

	return block.buffer[offset : offset+p.itemSize : offset+p.itemSize]
}

// Alloc returns a slot truncated to size bytes. size may not exceed the pool's item size.
func (p *Pool) Alloc(size int, tag memutils.Tag) ([]byte, error) {
	if size <= 0 || size > p.itemSize {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "requested %d bytes from a pool of %d byte items", size, p.itemSize)
	}

	return p.AllocItem()[:size:size], nil
}

// AlignedAlloc returns a slot containing size bytes aligned to alignment. The slot must be large enough to
// hold size+alignment bytes.
func (p *Pool) AlignedAlloc(size int, alignment uint, tag memutils.Tag) ([]byte, error) {
	err := memutils.CheckAlignment(alignment)
	if err != nil {
		return nil, err
	}
	if size <= 0 || size+int(alignment) > p.itemSize {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "requested %d bytes aligned to %d from a pool of %d byte items", size, alignment, p.itemSize)
	}

	return memutils.AlignBytes(p.AllocItem(), size, alignment), nil
}

func (p *Pool) findBlock(addr uintptr) *poolBlock {
	for _, block := range p.blocks {
		if block.contains(addr) {
			return block
		}
	}

	return nil
}

func (p *Pool) freeAddress(addr uintptr) error {
	block := p.findBlock(addr)
	memutils.DebugAssert(block != nil, "address %#x does not belong to any pool block", addr)
	if block == nil {
		return errors.Wrapf(memutils.ErrUnknownPointer, "address %#x", addr)
	}

	offset := int(addr - block.base)
	offset -= offset % p.itemSize

	memutils.DebugAssert(block.remaining < len(block.freeSlots), "free of %#x into a block with no live slots", addr)
	if block.remaining >= len(block.freeSlots) {
		return errors.Wrapf(memutils.ErrDoubleFree, "address %#x", addr)
	}

	if memutils.DebugEnabled {
		memutils.DebugAssert(!block.isFree(offset), "double free of pool slot at %#x", addr)
	}

	block.freeSlots[block.remaining] = offset
	block.remaining++
	p.allocCount--

	return nil
}

// Free returns a slot to the block that owns it
func (p *Pool) Free(mem []byte) error {
	return p.freeAddress(memutils.Address(mem))
}

// AlignedFree returns a slot handed out by AlignedAlloc
func (p *Pool) AlignedFree(mem []byte) error {
	return p.freeAddress(memutils.Address(mem) - uintptr(memutils.ReadAdjustment(mem)))
}

// Clear marks every slot in every block free without releasing any blocks
func (p *Pool) Clear() {
	for _, block := range p.blocks {
		block.seed(p.itemSize)
	}
	p.allocCount = 0
}

// Destroy releases every block. The pool must not be used afterward.
func (p *Pool) Destroy() {
	p.blocks = nil
	p.allocCount = 0
}

// Validate checks that the free-slot stacks are consistent with the allocation count
func (p *Pool) Validate() error {
	var free int
	for blockIndex, block := range p.blocks {
		if block.remaining < 0 || block.remaining > len(block.freeSlots) {
			return errors.Errorf("block %d has %d free slots but only %d total slots", blockIndex, block.remaining, len(block.freeSlots))
		}

		seen := make(map[int]struct{}, block.remaining)
		for i := 0; i < block.remaining; i++ {
			offset := block.freeSlots[i]
			if offset%p.itemSize != 0 || offset >= len(block.buffer) {
				return errors.Errorf("block %d lists invalid free offset %d", blockIndex, offset)
			}
			if _, dup := seen[offset]; dup {
				return errors.Errorf("block %d lists free offset %d twice", blockIndex, offset)
			}
			seen[offset] = struct{}{}
		}
		free += block.remaining
	}

	total := len(p.blocks) * p.itemsPerBlock
	if total-free != p.allocCount {
		return errors.Errorf("pool reports %d allocations, but blocks account for %d", p.allocCount, total-free)
	}

	return nil
}

func (p *Pool) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount += len(p.blocks)
	stats.BlockBytes += len(p.blocks) * p.itemsPerBlock * p.itemSize
	stats.AllocationCount += p.allocCount
	stats.AllocationBytes += p.allocCount * p.itemSize
}

func (p *Pool) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("ItemSize").Int(p.itemSize)
	json.Name("ItemsPerBlock").Int(p.itemsPerBlock)

	blocks := json.Name("Blocks").Object()
	for i, block := range p.blocks {
		blockObj := blocks.Name(strconv.Itoa(i)).Object()
		blockObj.Name("FreeSlots").Int(block.remaining)
		blockObj.End()
	}
	blocks.End()
}
