package memutils

import "github.com/pkg/errors"

var (
	// ErrPowerOfTwo is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	ErrPowerOfTwo error = errors.New("number must be a power of two")
	// ErrOutOfMemory is returned when an allocator cannot satisfy a request. It is recoverable: the
	// allocator is left unchanged and the caller may free memory and try again.
	ErrOutOfMemory error = errors.New("out of memory")
	// ErrInvalidSize is returned when an allocation of zero or negative size is requested, or when a
	// fixed-size allocator receives a request larger than its item size
	ErrInvalidSize error = errors.New("invalid allocation size")
	// ErrUnknownPointer is returned when memory is passed to an allocator that did not hand it out
	ErrUnknownPointer error = errors.New("memory does not belong to this allocator")
	// ErrDoubleFree is returned when memory that is already free is freed again
	ErrDoubleFree error = errors.New("memory is already free")
	// ErrSaveDepthExceeded is returned when a stack allocator is saved more times than it can track
	ErrSaveDepthExceeded error = errors.New("save stack depth exceeded")
	// ErrSaveMismatch is returned when a stack allocator is loaded without a matching save
	ErrSaveMismatch error = errors.New("load does not match a previous save")
)
