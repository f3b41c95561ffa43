// Package threads provides long-lived worker threads and multi-signal events. Each Thread is a goroutine
// locked to its own OS thread that calls a kernel function in a loop, and owns a private freelist and
// temp stack so that scratch work never touches the shared heap.
package threads

import (
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/workbench/memutils"
	"github.com/vkngwrapper/workbench/memutils/freelist"
	"github.com/vkngwrapper/workbench/memutils/stack"
	"golang.org/x/exp/slog"
)

// State is the run state of a Thread. Changes requested through Pause, Resume and Stop are observed
// by the thread between kernel calls.
type State int32

const (
	StateRunning State = iota
	StatePaused
	StateStopped
)

var stateMapping = map[State]string{
	StateRunning: "Running",
	StatePaused:  "Paused",
	StateStopped: "Stopped",
}

func (s State) String() string {
	return stateMapping[s]
}

// Kernel is called repeatedly on the thread. Returning false ends the loop.
type Kernel func(t *Thread) bool

// TempAllocator is a resettable stack allocator. Both stack.Stack and stack.AtomicStack implement it.
type TempAllocator interface {
	memutils.Allocator
	memutils.Checkpointer
	memutils.Reporter
	Reset()
	Offset() int
}

var _ TempAllocator = &stack.Stack{}
var _ TempAllocator = &stack.AtomicStack{}

var ErrAlreadyStarted = errors.New("thread was already started")

type Thread struct {
	logger   *slog.Logger
	id       int
	name     string
	priority Priority
	flags    CreateFlags

	kernel  Kernel
	init    func(t *Thread) error
	release func(t *Thread)
	param1  any
	param2  any

	local *freelist.Freelist
	temp  TempAllocator

	mutex   sync.Mutex
	cond    *sync.Cond
	state   State
	started bool
	done    chan struct{}
}

// New creates a Thread but does not start it. The thread's allocators are created immediately.
func New(logger *slog.Logger, id int, kernel Kernel, options CreateOptions) (*Thread, error) {
	if kernel == nil {
		return nil, errors.New("threads.New: kernel cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	localSize := options.LocalMemSize
	if localSize == 0 {
		localSize = DefaultLocalMemSize
	}
	tempSize := options.TempMemSize
	if tempSize == 0 {
		tempSize = DefaultTempMemSize
	}

	local, err := freelist.New(logger, localSize)
	if err != nil {
		return nil, errors.Wrapf(err, "thread %d local allocator", id)
	}

	var temp TempAllocator
	if options.Flags&CreateThreadSafeTemp != 0 {
		temp, err = stack.NewAtomic(logger, tempSize)
	} else {
		temp, err = stack.New(logger, tempSize)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "thread %d temp allocator", id)
	}

	t := &Thread{
		logger:   logger,
		id:       id,
		name:     options.Name,
		priority: options.Priority,
		flags:    options.Flags,

		kernel:  kernel,
		init:    options.Init,
		release: options.Release,
		param1:  options.Param1,
		param2:  options.Param2,

		local: local,
		temp:  temp,

		state: StateRunning,
		done:  make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mutex)

	return t, nil
}

func (t *Thread) ID() int                   { return t.id }
func (t *Thread) Name() string              { return t.name }
func (t *Thread) Priority() Priority        { return t.priority }
func (t *Thread) Param1() any               { return t.param1 }
func (t *Thread) Param2() any               { return t.param2 }
func (t *Thread) Local() *freelist.Freelist { return t.local }
func (t *Thread) Temp() TempAllocator       { return t.temp }

func (t *Thread) State() State {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.state
}

// Start launches the thread and waits for its Init callback to finish. If Init fails, the thread exits
// and its error is returned.
func (t *Thread) Start() error {
	t.mutex.Lock()
	if t.started {
		t.mutex.Unlock()
		return errors.Wrapf(ErrAlreadyStarted, "thread %d", t.id)
	}
	t.started = true
	t.mutex.Unlock()

	t.logger.Debug("Thread::Start", slog.Int("ID", t.id), slog.String("Name", t.name))

	ready := make(chan error, 1)
	go t.run(ready)
	return <-ready
}

func (t *Thread) run(ready chan<- error) {
	defer close(t.done)

	// Never unlocked, so the OS thread exits with the goroutine and takes its priority with it
	runtime.LockOSThread()

	err := applyPriority(t.priority)
	if err != nil {
		t.logger.Warn("Thread::Start could not apply priority",
			slog.Int("ID", t.id),
			slog.String("Priority", t.priority.String()),
			slog.Any("Error", err))
	}

	if t.init != nil {
		err = t.init(t)
		if err != nil {
			ready <- errors.Wrapf(err, "thread %d init", t.id)
			return
		}
	}
	ready <- nil

	if t.release != nil {
		defer t.release(t)
	}

	for {
		if !t.kernel(t) {
			t.logger.Debug("Thread::run kernel aborted", slog.Int("ID", t.id))
			return
		}

		if !t.waitWhilePaused() {
			return
		}
	}
}

// waitWhilePaused blocks while the thread is paused and returns false if the thread has been stopped
func (t *Thread) waitWhilePaused() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for t.state == StatePaused {
		t.cond.Wait()
	}
	return t.state != StateStopped
}

// Pause asks the thread to block after its current kernel call. A kernel may pause its own thread.
func (t *Thread) Pause() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state == StateRunning {
		t.state = StatePaused
	}
}

// Resume wakes a paused thread. It has no effect on a stopped thread.
func (t *Thread) Resume() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state == StatePaused {
		t.state = StateRunning
		t.cond.Broadcast()
	}
}

// Stop asks the thread to exit after its current kernel call, waking it if it is paused
func (t *Thread) Stop() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.state = StateStopped
	t.cond.Broadcast()
}

// Join blocks until the thread has exited. It returns immediately for a thread that was never started.
func (t *Thread) Join() {
	t.mutex.Lock()
	started := t.started
	t.mutex.Unlock()

	if started {
		<-t.done
	}
}

// Done returns a channel that is closed when the thread exits
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// AddStatistics adds the usage of the thread's local and temp allocators to stats
func (t *Thread) AddStatistics(stats *memutils.Statistics) {
	t.local.AddStatistics(stats)
	t.temp.AddStatistics(stats)
}

func (t *Thread) PrintDetailedMap(json *jwriter.ObjectState) {
	json.Name("ID").Int(t.id)
	if t.name != "" {
		json.Name("Name").String(t.name)
	}
	json.Name("State").String(t.State().String())
	json.Name("Priority").String(t.priority.String())
	json.Name("Flags").String(t.flags.String())

	localObj := json.Name("Local").Object()
	t.local.PrintDetailedMap(&localObj)
	localObj.End()

	tempObj := json.Name("Temp").Object()
	t.temp.PrintDetailedMap(&tempObj)
	tempObj.End()
}
