package memutils

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// Tag is an opaque owner marker attached to an allocation. Allocators record it for diagnostics
// but never interpret it.
type Tag uint32

const (
	TagNone Tag = 0
)

// Allocator is the contract shared by every allocator in this module. Consumers hold an Allocator
// and never assume which discipline sits behind it.
//
// Memory returned from Alloc must be returned with Free, and memory returned from AlignedAlloc must be
// returned with AlignedFree. Mixing the two is a contract violation.
type Allocator interface {
	// Alloc returns size bytes of memory. ErrOutOfMemory is returned (wrapped) when the request
	// cannot be satisfied.
	Alloc(size int, tag Tag) ([]byte, error)
	// AlignedAlloc returns size bytes of memory whose first byte is aligned to alignment, which must
	// be a power of two no larger than MaxAlignment.
	AlignedAlloc(size int, alignment uint, tag Tag) ([]byte, error)
	// Free releases memory returned by Alloc
	Free(mem []byte) error
	// AlignedFree releases memory returned by AlignedAlloc
	AlignedFree(mem []byte) error
}

// Checkpointer is implemented by allocators that can roll back to a previously saved state. Only the
// stack allocators implement it.
type Checkpointer interface {
	Save() error
	Load() error
}

// Reporter is implemented by allocators that can report their usage
type Reporter interface {
	AddStatistics(stats *Statistics)
	PrintDetailedMap(json *jwriter.ObjectState)
}
