// Package tasks dispatches work across a fixed set of worker threads. A job runs one RunFunc on every
// thread selected for it, each with its own ordinal. The goroutine that calls Dispatch acts as the main
// thread (thread id 0) and runs its share of a job inline before Dispatch returns.
package tasks

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eapache/queue"
	"github.com/vkngwrapper/workbench/hashtable"
	"github.com/vkngwrapper/workbench/internal/utils"
	"github.com/vkngwrapper/workbench/memutils"
	"github.com/vkngwrapper/workbench/memutils/freelist"
	"github.com/vkngwrapper/workbench/memutils/stack"
	"github.com/vkngwrapper/workbench/threads"
	"golang.org/x/exp/slog"
)

// MainThreadID is the thread id of the goroutine that calls Dispatch
const MainThreadID int = 0

// worker is a thread and the queue of jobs waiting for it. The queue is only touched under mutex.
type worker struct {
	thread *threads.Thread
	mutex  sync.Mutex
	queue  *queue.Queue
	// busy is true from the moment a job is pushed onto an empty queue until the worker finds its
	// queue empty again
	busy atomic.Bool
	// stats is the thread's allocator usage as of the last time it checked its queue
	stats memutils.Statistics
}

// refreshStats must be called with mutex held, either from the worker's own thread or before it starts
func (w *worker) refreshStats() {
	var stats memutils.Statistics
	w.thread.AddStatistics(&stats)
	w.stats = stats
}

// Manager owns a set of worker threads and the jobs dispatched to them
type Manager struct {
	logger *slog.Logger
	flags  CreateFlags

	workers    []*worker
	mainLocal  *freelist.Freelist
	mainTemp   *stack.Stack
	sharedTemp *stack.AtomicStack

	jobMutex     utils.OptionalRWMutex
	jobAllocator memutils.Allocator
	jobs         []*job
	generations  []uint32
	freeSlots    *slotStack
	liveJobs     int

	released bool
}

// New creates a Manager and starts its worker threads
func New(logger *slog.Logger, options CreateOptions) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if options.ThreadCount < 0 {
		return nil, errors.Newf("thread count cannot be negative, got %d", options.ThreadCount)
	}

	localSize := options.LocalMemSize
	if localSize == 0 {
		localSize = DefaultLocalMemSize
	}
	tempSize := options.TempMemSize
	if tempSize == 0 {
		tempSize = DefaultTempMemSize
	}
	sharedTempSize := options.SharedTempMemSize
	if sharedTempSize == 0 {
		sharedTempSize = DefaultSharedTempMemSize
	}

	m := &Manager{
		logger:       logger,
		flags:        options.Flags,
		jobMutex:     utils.OptionalRWMutex{UseMutex: options.Flags&CreateExternallySynchronized == 0},
		jobAllocator: options.JobAllocator,
	}

	logger.Debug("Manager::New", slog.Int("ThreadCount", options.ThreadCount), slog.String("Flags", options.Flags.String()))

	var err error
	m.mainLocal, err = freelist.New(logger, localSize)
	if err != nil {
		return nil, errors.Wrap(err, "main thread local allocator")
	}
	m.mainTemp, err = stack.New(logger, tempSize)
	if err != nil {
		return nil, errors.Wrap(err, "main thread temp allocator")
	}
	m.sharedTemp, err = stack.NewAtomic(logger, sharedTempSize)
	if err != nil {
		return nil, errors.Wrap(err, "shared temp allocator")
	}

	if m.jobAllocator == nil {
		jobMemSize := options.JobMemSize
		if jobMemSize == 0 {
			jobMemSize = DefaultJobMemSize
		}

		m.jobAllocator, err = freelist.New(logger, jobMemSize)
		if err != nil {
			return nil, errors.Wrap(err, "job allocator")
		}
	}

	m.freeSlots, err = newSlotStack()
	if err != nil {
		return nil, err
	}

	var threadFlags threads.CreateFlags
	if options.Flags&CreateThreadSafeTemp != 0 {
		threadFlags |= threads.CreateThreadSafeTemp
	}

	for i := 0; i < options.ThreadCount; i++ {
		w := &worker{queue: queue.New()}

		w.thread, err = threads.New(logger, i+1, m.workerKernel(w), threads.CreateOptions{
			Priority:     options.Priority,
			Flags:        threadFlags,
			LocalMemSize: localSize,
			TempMemSize:  tempSize,
		})
		if err != nil {
			m.Release()
			return nil, err
		}
		w.refreshStats()

		m.workers = append(m.workers, w)
	}

	for _, w := range m.workers {
		err = w.thread.Start()
		if err != nil {
			m.Release()
			return nil, err
		}
	}

	return m, nil
}

// Release stops every worker thread and waits for them to exit. Jobs still queued are never run.
func (m *Manager) Release() {
	if m.released {
		return
	}
	m.released = true

	m.logger.Debug("Manager::Release")

	for _, w := range m.workers {
		w.thread.Stop()
		w.thread.Resume()
	}
	for _, w := range m.workers {
		w.thread.Join()
	}

	m.jobMutex.Lock()
	defer m.jobMutex.Unlock()

	for slot, j := range m.jobs {
		if j != nil {
			m.releaseJob(slot, j)
		}
	}
	m.freeSlots.destroy()
}

// ThreadCount returns the number of worker threads, not counting the main thread
func (m *Manager) ThreadCount() int {
	return len(m.workers)
}

func (m *Manager) thread(threadID int) (*threads.Thread, error) {
	if threadID < 1 || threadID > len(m.workers) {
		return nil, errors.Wrapf(ErrInvalidThread, "thread %d of %d", threadID, len(m.workers))
	}
	return m.workers[threadID-1].thread, nil
}

// LocalAllocator returns the private freelist of a thread. Thread 0 is the main thread.
func (m *Manager) LocalAllocator(threadID int) (*freelist.Freelist, error) {
	if threadID == MainThreadID {
		return m.mainLocal, nil
	}

	t, err := m.thread(threadID)
	if err != nil {
		return nil, err
	}
	return t.Local(), nil
}

// TempAllocator returns the temp stack of a thread. Worker temp stacks are reset before every job.
// Thread 0 is the main thread, whose temp stack is reset before it runs its share of a job.
func (m *Manager) TempAllocator(threadID int) (threads.TempAllocator, error) {
	if threadID == MainThreadID {
		return m.mainTemp, nil
	}

	t, err := m.thread(threadID)
	if err != nil {
		return nil, err
	}
	return t.Temp(), nil
}

// SharedTempAllocator returns a temp stack that any thread may allocate from concurrently. It is never
// reset by the manager.
func (m *Manager) SharedTempAllocator() *stack.AtomicStack {
	return m.sharedTemp
}

func (m *Manager) workerKernel(w *worker) threads.Kernel {
	return func(t *threads.Thread) bool {
		w.mutex.Lock()
		w.refreshStats()
		if w.queue.Length() == 0 {
			w.busy.Store(false)
			t.Pause()
			w.mutex.Unlock()
			return true
		}

		j := w.queue.Remove().(*job)
		w.mutex.Unlock()

		m.runWorkerShare(t, j)
		return true
	}
}

func (m *Manager) runWorkerShare(t *threads.Thread, j *job) {
	t.Temp().Reset()

	ordinal, ok := j.ordinals.Find(threadKey(t.ID()))
	memutils.DebugAssert(ok, "thread %d was handed job %s but is not one of its workers", t.ID(), j.id)
	if !ok {
		m.logger.Error("Manager::runWorkerShare thread is not a worker of its job", slog.Int("ThreadID", t.ID()), slog.String("Job", j.id.String()))
		return
	}

	record := j.record(j.recordIndex(ordinal))
	j.run(j.params, j.result, t.ID(), j.id, ordinal)

	_ = j.event.Trigger(record.signalID)
	j.finished.Add(1)
}

// idle returns true if the worker has no queued jobs and is not running one
func (w *worker) idle() bool {
	return !w.busy.Load()
}

func (m *Manager) selectWorkers(context DispatchContext, maxThreads int) (bool, []*worker, error) {
	if maxThreads <= 0 {
		maxThreads = len(m.workers) + 1
	}

	includeMain := context.includesMain()
	if includeMain {
		maxThreads--
	}

	var selected []*worker
	for _, w := range m.workers {
		if len(selected) >= maxThreads {
			break
		}
		if context.idleOnly() && !w.idle() {
			continue
		}
		selected = append(selected, w)
	}

	if context == DispatchFreeNoMain && len(selected) == 0 {
		return false, nil, ErrNoIdleWorkers
	}
	if !includeMain && len(selected) == 0 {
		return false, nil, errors.Newf("%s selected no threads", context)
	}

	return includeMain, selected, nil
}

// Dispatch runs a job on the threads chosen by context, up to maxThreads of them including the main
// thread. A maxThreads of 0 or less does not limit the number of threads. If the main thread is chosen,
// its share of the job runs before Dispatch returns. On failure, no job is scheduled and the returned
// JobID is 0.
func (m *Manager) Dispatch(run RunFunc, context DispatchContext, maxThreads int, params, result any) (JobID, error) {
	m.logger.Debug("Manager::Dispatch", slog.String("Context", context.String()), slog.Int("MaxThreads", maxThreads))

	if run == nil {
		return 0, errors.New("Manager::Dispatch: run cannot be nil")
	}
	if _, ok := dispatchContextMapping[context]; !ok {
		return 0, errors.Newf("unknown dispatch context %d", int32(context))
	}

	includeMain, workers, err := m.selectWorkers(context, maxThreads)
	if err != nil {
		return 0, err
	}

	return m.dispatch(run, includeMain, workers, params, result)
}

// DispatchExclusive runs a job on exactly the listed threads. Thread 0 is the main thread, whose share
// runs before DispatchExclusive returns.
func (m *Manager) DispatchExclusive(run RunFunc, threadIDs []int, params, result any) (JobID, error) {
	m.logger.Debug("Manager::DispatchExclusive", slog.Any("Threads", threadIDs))

	if run == nil {
		return 0, errors.New("Manager::DispatchExclusive: run cannot be nil")
	}
	if len(threadIDs) == 0 {
		return 0, errors.New("Manager::DispatchExclusive: no threads were listed")
	}

	includeMain := false
	seen := make(map[int]struct{}, len(threadIDs))
	var workers []*worker
	for _, threadID := range threadIDs {
		if _, duplicate := seen[threadID]; duplicate {
			return 0, errors.Newf("thread %d was listed more than once", threadID)
		}
		seen[threadID] = struct{}{}

		if threadID == MainThreadID {
			includeMain = true
			continue
		}

		_, err := m.thread(threadID)
		if err != nil {
			return 0, err
		}
		workers = append(workers, m.workers[threadID-1])
	}

	return m.dispatch(run, includeMain, workers, params, result)
}

func (m *Manager) dispatch(run RunFunc, includeMain bool, workers []*worker, params, result any) (JobID, error) {
	j := &job{
		run:          run,
		params:       params,
		result:       result,
		includesMain: includeMain,
		workerCount:  len(workers),
		ordinals:     hashtable.New[int](len(workers) + 1),
		event:        threads.NewEvent(),
	}

	m.jobMutex.Lock()
	slot := m.acquireSlot(j)
	err := m.buildJob(j, workers)
	if err != nil {
		m.releaseJob(slot, j)
		m.jobMutex.Unlock()
		return 0, err
	}
	m.jobMutex.Unlock()

	for _, w := range workers {
		w.mutex.Lock()
		if w.queue.Length() == 0 {
			w.busy.Store(true)
			w.thread.Resume()
		}
		w.queue.Add(j)
		w.mutex.Unlock()
	}

	if includeMain {
		m.mainTemp.Reset()
		j.run(params, result, MainThreadID, j.id, 0)
	}

	return j.id, nil
}

// buildJob fills in the worker records and ordinal table of a job whose slot has been acquired
func (m *Manager) buildJob(j *job, workers []*worker) error {
	ordinal := 0
	if j.includesMain {
		err := j.ordinals.Add(threadKey(MainThreadID), ordinal)
		if err != nil {
			return err
		}
		ordinal++
	}

	if len(workers) == 0 {
		return nil
	}

	records, err := m.jobAllocator.Alloc(len(workers)*workerRecordSize, TagJobWorkers)
	if err != nil {
		return errors.Wrapf(err, "allocating worker records for job %s", j.id)
	}
	j.records = records

	for index, w := range workers {
		record := workerRecord{
			threadID: w.thread.ID(),
			signalID: j.event.AddSignal(""),
			ordinal:  ordinal,
		}
		j.putRecord(index, record)

		err = j.ordinals.Add(threadKey(record.threadID), record.ordinal)
		if err != nil {
			return err
		}
		ordinal++
	}

	return nil
}

// acquireSlot places j in a recycled slot if one is available and otherwise in a new slot. The job
// table lock must be held.
func (m *Manager) acquireSlot(j *job) int {
	slot, ok := m.freeSlots.pop()
	if !ok {
		slot = len(m.jobs)
		m.jobs = append(m.jobs, nil)
		m.generations = append(m.generations, 1)
	}

	j.id = makeJobID(slot, m.generations[slot])
	m.jobs[slot] = j
	m.liveJobs++
	return slot
}

// releaseJob frees everything a job holds and recycles its slot. The job table lock must be held.
func (m *Manager) releaseJob(slot int, j *job) {
	if j.records != nil {
		err := m.jobAllocator.Free(j.records)
		if err != nil {
			m.logger.Error("Manager::Destroy could not free worker records", slog.String("Job", j.id.String()), slog.Any("Error", err))
		}
		j.records = nil
	}
	j.event.Destroy()
	j.ordinals.Clear()

	m.jobs[slot] = nil
	m.generations[slot]++
	m.freeSlots.push(slot)
	m.liveJobs--
}

func (m *Manager) lookup(id JobID) (*job, error) {
	slot := id.Slot()
	if slot < 0 || slot >= len(m.jobs) || m.jobs[slot] == nil || m.jobs[slot].id != id {
		return nil, errors.Wrapf(ErrInvalidJob, "job %s", id)
	}

	return m.jobs[slot], nil
}

func (m *Manager) readJob(id JobID) (*job, error) {
	m.jobMutex.RLock()
	defer m.jobMutex.RUnlock()

	return m.lookup(id)
}

// Wait blocks until every worker thread has finished its share of the job
func (m *Manager) Wait(id JobID) error {
	j, err := m.readJob(id)
	memutils.DebugAssert(err == nil, "waited on job %s, which does not exist", id)
	if err != nil {
		return err
	}

	if j.event.WaitForAll(threads.Infinite) != threads.WaitOK {
		return errors.Wrapf(ErrInvalidJob, "job %s was destroyed while waiting", id)
	}
	return nil
}

// WaitTimeout is Wait with a limit on how long to block. It returns false if the job did not finish in
// time.
func (m *Manager) WaitTimeout(id JobID, timeout time.Duration) (bool, error) {
	j, err := m.readJob(id)
	memutils.DebugAssert(err == nil, "waited on job %s, which does not exist", id)
	if err != nil {
		return false, err
	}

	switch j.event.WaitForAll(timeout) {
	case threads.WaitOK:
		return true, nil
	case threads.WaitTimeout:
		return false, nil
	default:
		return false, errors.Wrapf(ErrInvalidJob, "job %s was destroyed while waiting", id)
	}
}

// CheckFinished returns true if every worker thread has finished its share of the job. It never blocks.
func (m *Manager) CheckFinished(id JobID) bool {
	j, err := m.readJob(id)
	if err != nil {
		return false
	}

	return j.isFinished()
}

// Destroy releases a finished job. Its JobID becomes invalid, and its slot is reused by a later
// dispatch under a new generation.
func (m *Manager) Destroy(id JobID) error {
	m.logger.Debug("Manager::Destroy", slog.String("Job", id.String()))

	m.jobMutex.Lock()
	defer m.jobMutex.Unlock()

	j, err := m.lookup(id)
	memutils.DebugAssert(err == nil, "destroyed job %s, which does not exist", id)
	if err != nil {
		return err
	}

	if j.event.WaitForAll(0) != threads.WaitOK {
		return errors.Wrapf(ErrJobRunning, "job %s", id)
	}

	// Workers count themselves finished just after they signal
	for !j.isFinished() {
		runtime.Gosched()
	}

	m.releaseJob(id.Slot(), j)
	return nil
}

// LiveJobs returns the number of jobs that have been dispatched and not destroyed
func (m *Manager) LiveJobs() int {
	m.jobMutex.RLock()
	defer m.jobMutex.RUnlock()

	return m.liveJobs
}
