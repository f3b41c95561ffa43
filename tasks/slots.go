package tasks

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/workbench/memutils/pool"
)

const (
	slotsPerChunk   = 64
	slotChunkSize   = slotsPerChunk * 4
	slotChunksBlock = 4
)

// slotStack is a LIFO of recycled job slot indices. Indices are stored as uint32 values in fixed-size
// chunks taken from a pool, so pushing never moves previously stored indices.
type slotStack struct {
	pool   *pool.Pool
	chunks [][]byte
	count  int
}

func newSlotStack() (*slotStack, error) {
	chunkPool, err := pool.New(slotChunkSize, slotChunksBlock)
	if err != nil {
		return nil, err
	}

	return &slotStack{pool: chunkPool}, nil
}

func (s *slotStack) Len() int { return s.count }

func (s *slotStack) push(slot int) {
	index := s.count % slotsPerChunk
	if index == 0 {
		s.chunks = append(s.chunks, s.pool.AllocItem())
	}

	chunk := s.chunks[len(s.chunks)-1]
	binary.LittleEndian.PutUint32(chunk[index*4:], uint32(slot))
	s.count++
}

func (s *slotStack) pop() (int, bool) {
	if s.count == 0 {
		return 0, false
	}

	s.count--
	index := s.count % slotsPerChunk
	last := len(s.chunks) - 1
	slot := int(binary.LittleEndian.Uint32(s.chunks[last][index*4:]))

	if index == 0 {
		err := s.pool.Free(s.chunks[last])
		if err != nil {
			panic(errors.Wrap(err, "slot stack chunk was not allocated from its pool"))
		}
		s.chunks[last] = nil
		s.chunks = s.chunks[:last]
	}

	return slot, true
}

func (s *slotStack) destroy() {
	s.chunks = nil
	s.count = 0
	s.pool.Destroy()
}
