package tasks

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/workbench/memutils"
)

// CalculateStatistics adds the usage of every thread allocator, the shared temp stack, and the job
// allocator to stats.
//
// Worker threads are reported as of the last time each one checked its queue. The main thread's
// allocators are read directly, so this method may run alongside jobs only when it is called from the
// goroutine that dispatches them, or when no job includes the main thread.
func (m *Manager) CalculateStatistics(stats *memutils.Statistics) {
	m.mainLocal.AddStatistics(stats)
	m.mainTemp.AddStatistics(stats)
	m.sharedTemp.AddStatistics(stats)

	for _, w := range m.workers {
		w.mutex.Lock()
		stats.AddStatistics(&w.stats)
		w.mutex.Unlock()
	}

	m.jobMutex.RLock()
	defer m.jobMutex.RUnlock()

	if reporter, ok := m.jobAllocator.(memutils.Reporter); ok {
		reporter.AddStatistics(stats)
	}
}

// BuildStatsString returns a json document describing the manager's threads, their queues, and the memory
// their allocators hold. If detailedMap is true, every idle worker and the job allocator also list their
// allocations; busy workers only report their last known statistics. The same restriction on the main
// thread as CalculateStatistics applies.
func (m *Manager) BuildStatsString(detailedMap bool) string {
	writer := jwriter.NewWriter()
	objState := writer.Object()

	var total memutils.Statistics
	m.CalculateStatistics(&total)

	totalObj := objState.Name("Total").Object()
	total.PrintJson(&totalObj)
	totalObj.End()

	objState.Name("Flags").String(m.flags.String())
	objState.Name("LiveJobs").Int(m.LiveJobs())

	threadArray := objState.Name("Threads").Array()
	m.printMainThread(&threadArray, detailedMap)
	for _, w := range m.workers {
		threadObj := threadArray.Object()
		m.printWorker(w, &threadObj, detailedMap)
		threadObj.End()
	}
	threadArray.End()

	sharedObj := objState.Name("SharedTemp").Object()
	m.sharedTemp.PrintDetailedMap(&sharedObj)
	sharedObj.End()

	if detailedMap {
		m.printJobAllocator(&objState)
	}

	objState.End()
	return string(writer.Bytes())
}

// printWorker holds the worker's mutex throughout. A worker that is not busy is parked and cannot touch
// its allocators until Dispatch takes the same mutex to wake it.
func (m *Manager) printWorker(w *worker, threadObj *jwriter.ObjectState, detailedMap bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	busy := w.busy.Load()
	threadObj.Name("Queued").Int(w.queue.Length())
	threadObj.Name("Busy").Bool(busy)

	if detailedMap && !busy {
		w.thread.PrintDetailedMap(threadObj)
		return
	}

	threadObj.Name("ID").Int(w.thread.ID())
	threadObj.Name("State").String(w.thread.State().String())
	statsObj := threadObj.Name("Stats").Object()
	w.stats.PrintJson(&statsObj)
	statsObj.End()
}

func (m *Manager) printJobAllocator(objState *jwriter.ObjectState) {
	m.jobMutex.RLock()
	defer m.jobMutex.RUnlock()

	reporter, ok := m.jobAllocator.(memutils.Reporter)
	if !ok {
		return
	}

	jobObj := objState.Name("JobAllocator").Object()
	reporter.PrintDetailedMap(&jobObj)
	jobObj.End()
}

func (m *Manager) printMainThread(threadArray *jwriter.ArrayState, detailedMap bool) {
	mainObj := threadArray.Object()
	defer mainObj.End()

	mainObj.Name("ID").Int(MainThreadID)
	mainObj.Name("Main").Bool(true)

	if detailedMap {
		localObj := mainObj.Name("Local").Object()
		m.mainLocal.PrintDetailedMap(&localObj)
		localObj.End()

		tempObj := mainObj.Name("Temp").Object()
		m.mainTemp.PrintDetailedMap(&tempObj)
		tempObj.End()
		return
	}

	var stats memutils.Statistics
	m.mainLocal.AddStatistics(&stats)
	m.mainTemp.AddStatistics(&stats)

	statsObj := mainObj.Name("Stats").Object()
	stats.PrintJson(&statsObj)
	statsObj.End()
}
