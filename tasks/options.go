package tasks

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/workbench/memutils"
	"github.com/vkngwrapper/workbench/threads"
)

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized removes the mutex around the job table. The consumer must guarantee
	// that Dispatch, DispatchExclusive, Wait, CheckFinished and Destroy are only called from one
	// goroutine at a time.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateThreadSafeTemp gives every worker an AtomicStack temp allocator instead of a Stack, so that
	// other goroutines can carve scratch memory from a worker's temp allocator while it runs
	CreateThreadSafeTemp
)

func init() {
	CreateExternallySynchronized.Register("tasks.CreateExternallySynchronized")
	CreateThreadSafeTemp.Register("tasks.CreateThreadSafeTemp")
}

const (
	// DefaultLocalMemSize is the size of each thread's local freelist when none is provided
	DefaultLocalMemSize int = threads.DefaultLocalMemSize
	// DefaultTempMemSize is the size of each thread's temp stack when none is provided
	DefaultTempMemSize int = threads.DefaultTempMemSize
	// DefaultSharedTempMemSize is the size of the shared AtomicStack when none is provided
	DefaultSharedTempMemSize int = 256 * 1024
	// DefaultJobMemSize is the size of the freelist that holds job worker records when no JobAllocator
	// is provided
	DefaultJobMemSize int = 64 * 1024
)

// CreateOptions configures a Manager. ThreadCount is the number of worker threads, not counting the
// main thread.
type CreateOptions struct {
	ThreadCount int
	Flags       CreateFlags

	LocalMemSize      int
	TempMemSize       int
	SharedTempMemSize int
	JobMemSize        int

	// JobAllocator holds the worker records of live jobs. If nil, a freelist of JobMemSize bytes is
	// created. It is only used from dispatching goroutines.
	JobAllocator memutils.Allocator
	// Priority is applied to every worker thread
	Priority threads.Priority
}

// DispatchContext selects which threads take part in a job
type DispatchContext int32

const (
	// DispatchAll runs the job on the main thread and every worker
	DispatchAll DispatchContext = iota
	// DispatchAllNoMain runs the job on every worker
	DispatchAllNoMain
	// DispatchFree runs the job on the main thread and every idle worker
	DispatchFree
	// DispatchFreeNoMain runs the job on every idle worker. Dispatch fails with ErrNoIdleWorkers
	// rather than block if no worker is idle.
	DispatchFreeNoMain
)

var dispatchContextMapping = map[DispatchContext]string{
	DispatchAll:        "DispatchAll",
	DispatchAllNoMain:  "DispatchAllNoMain",
	DispatchFree:       "DispatchFree",
	DispatchFreeNoMain: "DispatchFreeNoMain",
}

func (c DispatchContext) String() string {
	return dispatchContextMapping[c]
}

func (c DispatchContext) includesMain() bool {
	return c == DispatchAll || c == DispatchFree
}

func (c DispatchContext) idleOnly() bool {
	return c == DispatchFree || c == DispatchFreeNoMain
}
