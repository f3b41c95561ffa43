package memutils

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

const (
	// MaxAlignment is the largest alignment supported by AlignedAlloc. The adjustment between the raw
	// and aligned address is stored in a single byte, so it cannot exceed this value.
	MaxAlignment uint = 128
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// CheckAlignment verifies that alignment is a power of two no larger than MaxAlignment
func CheckAlignment(alignment uint) error {
	err := CheckPow2(alignment, "alignment")
	if err != nil {
		return err
	}

	if alignment > MaxAlignment {
		return cerrors.Newf("alignment %d is larger than the maximum supported alignment %d", alignment, MaxAlignment)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// Address returns the address of the first byte of mem
func Address(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
}

// AlignAdjustment returns the distance from addr to the next address aligned to alignment. The
// result is always in [1, alignment], so the byte immediately before the aligned address is
// always part of the raw allocation and can hold the adjustment.
func AlignAdjustment(addr uintptr, alignment uint) int {
	return int(alignment) - int(addr&uintptr(alignment-1))
}

// AlignBytes carves size aligned bytes out of raw, which must be at least size+alignment bytes long.
// The adjustment is written to the byte preceding the returned slice so that ReadAdjustment can
// recover the start of raw.
func AlignBytes(raw []byte, size int, alignment uint) []byte {
	adjustment := AlignAdjustment(Address(raw), alignment)
	raw[adjustment-1] = byte(adjustment)
	return raw[adjustment : adjustment+size : adjustment+size]
}

// ReadAdjustment reads the adjustment byte written by AlignBytes for an aligned allocation
func ReadAdjustment(mem []byte) int {
	return int(*(*byte)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(mem)), -1)))
}
