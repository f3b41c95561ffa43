//go:build !debug_mem_utils

package memutils

const (
	// DebugEnabled reports whether the module was built with the debug_mem_utils build tag. When it is
	// false, contract violations are reported as errors (where the check is cheap) rather than panics.
	DebugEnabled bool = false
)

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugAssert panics with the formatted message if cond is false. This method no-ops unless the
// debug_mem_utils build tag is present.
func DebugAssert(cond bool, format string, args ...any) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
