package threads

import "github.com/vkngwrapper/core/v2/common"

const (
	DefaultLocalMemSize int = 64 * 1024
	DefaultTempMemSize  int = 64 * 1024
)

// CreateFlags indicate optional thread behaviors
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateThreadSafeTemp causes the thread's temp allocator to be an AtomicStack, which other
	// goroutines may allocate from while the thread runs. AtomicStack only holds a single checkpoint.
	CreateThreadSafeTemp CreateFlags = 1 << iota
)

func init() {
	CreateThreadSafeTemp.Register("threads.CreateThreadSafeTemp")
}

// CreateOptions configures a Thread. Zero-valued sizes are replaced with the defaults.
type CreateOptions struct {
	Name     string
	Priority Priority
	Flags    CreateFlags

	// LocalMemSize is the size of the thread's private freelist
	LocalMemSize int
	// TempMemSize is the size of the thread's temp stack
	TempMemSize int

	// Init runs on the thread before the first kernel call. If it returns an error the thread exits
	// without running the kernel, and Start returns the error.
	Init func(t *Thread) error
	// Release runs on the thread after the loop exits
	Release func(t *Thread)

	Param1 any
	Param2 any
}
