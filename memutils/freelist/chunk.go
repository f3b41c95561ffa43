package freelist

import (
	"encoding/binary"

	"github.com/vkngwrapper/workbench/memutils"
)

// Chunk headers live inside the managed buffer, immediately before each payload:
//
//	0  magic      uint16
//	2  state      uint16
//	4  size       uint32  payload bytes
//	8  requested  uint32  bytes the caller asked for
//	12 tag        uint32
//	16 prev       int32   offset of the previous physical chunk, -1 for the first chunk
//	20 listPrev   int32   neighbors in the free list or alloc list, -1 at either end
//	24 listNext   int32
//	28 reserved   uint32
const (
	HeaderSize int = 32

	chunkMagic uint16 = 0xC4A7
	noChunk    int    = -1

	magicOffset     = 0
	stateOffset     = 2
	sizeOffset      = 4
	requestedOffset = 8
	tagOffset       = 12
	prevOffset      = 16
	listPrevOffset  = 20
	listNextOffset  = 24
)

type chunkState uint16

const (
	chunkFree chunkState = iota
	chunkAllocated
)

var chunkStateMapping = map[chunkState]string{
	chunkFree:      "Free",
	chunkAllocated: "Allocated",
}

func (s chunkState) String() string {
	return chunkStateMapping[s]
}

// chunk is a decoded copy of a header. Changes are not visible in the buffer until store is called.
type chunk struct {
	offset    int
	magic     uint16
	state     chunkState
	size      int
	requested int
	tag       memutils.Tag
	prev      int
	listPrev  int
	listNext  int
}

func (c *chunk) payload() int { return c.offset + HeaderSize }
func (c *chunk) next() int    { return c.offset + HeaderSize + c.size }
func (c *chunk) isFree() bool { return c.state == chunkFree }

func (f *Freelist) chunkAt(offset int) chunk {
	h := f.buffer[offset : offset+HeaderSize]
	return chunk{
		offset:    offset,
		magic:     binary.LittleEndian.Uint16(h[magicOffset:]),
		state:     chunkState(binary.LittleEndian.Uint16(h[stateOffset:])),
		size:      int(binary.LittleEndian.Uint32(h[sizeOffset:])),
		requested: int(binary.LittleEndian.Uint32(h[requestedOffset:])),
		tag:       memutils.Tag(binary.LittleEndian.Uint32(h[tagOffset:])),
		prev:      int(int32(binary.LittleEndian.Uint32(h[prevOffset:]))),
		listPrev:  int(int32(binary.LittleEndian.Uint32(h[listPrevOffset:]))),
		listNext:  int(int32(binary.LittleEndian.Uint32(h[listNextOffset:]))),
	}
}

func (f *Freelist) store(c *chunk) {
	h := f.buffer[c.offset : c.offset+HeaderSize]
	binary.LittleEndian.PutUint16(h[magicOffset:], chunkMagic)
	binary.LittleEndian.PutUint16(h[stateOffset:], uint16(c.state))
	binary.LittleEndian.PutUint32(h[sizeOffset:], uint32(c.size))
	binary.LittleEndian.PutUint32(h[requestedOffset:], uint32(c.requested))
	binary.LittleEndian.PutUint32(h[tagOffset:], uint32(c.tag))
	binary.LittleEndian.PutUint32(h[prevOffset:], uint32(int32(c.prev)))
	binary.LittleEndian.PutUint32(h[listPrevOffset:], uint32(int32(c.listPrev)))
	binary.LittleEndian.PutUint32(h[listNextOffset:], uint32(int32(c.listNext)))
	binary.LittleEndian.PutUint32(h[listNextOffset+4:], 0)
}

func (f *Freelist) putInt32(offset, field, value int) {
	binary.LittleEndian.PutUint32(f.buffer[offset+field:], uint32(int32(value)))
}

func (f *Freelist) clearHeader(offset int) {
	zero(f.buffer[offset : offset+HeaderSize])
}

// chunkList is the head of either the free list or the alloc list
type chunkList struct {
	head  int
	count int
}

// pushFront links c at the head of list. The caller must store c afterward.
func (f *Freelist) pushFront(list *chunkList, c *chunk) {
	c.listPrev = noChunk
	c.listNext = list.head
	if list.head != noChunk {
		f.putInt32(list.head, listPrevOffset, c.offset)
	}
	list.head = c.offset
	list.count++
}

// unlink removes c from list. The caller must store c afterward.
func (f *Freelist) unlink(list *chunkList, c *chunk) {
	if c.listPrev != noChunk {
		f.putInt32(c.listPrev, listNextOffset, c.listNext)
	} else {
		list.head = c.listNext
	}

	if c.listNext != noChunk {
		f.putInt32(c.listNext, listPrevOffset, c.listPrev)
	}

	c.listPrev = noChunk
	c.listNext = noChunk
	list.count--
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
