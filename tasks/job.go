package tasks

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/vkngwrapper/workbench/hashtable"
	"github.com/vkngwrapper/workbench/memutils"
	"github.com/vkngwrapper/workbench/threads"
)

// JobID names a dispatched job. The low 32 bits hold the job's slot index plus one and the high 32 bits
// hold the slot's generation, so an id that outlives its job never names the job that reuses its slot.
// The zero JobID never names a job.
type JobID uint64

func makeJobID(slot int, generation uint32) JobID {
	return JobID(uint64(generation)<<32 | uint64(slot+1))
}

// Slot returns the index of the slot that holds the job, or -1 for the zero JobID
func (id JobID) Slot() int {
	return int(uint32(id)) - 1
}

func (id JobID) Generation() uint32 {
	return uint32(id >> 32)
}

func (id JobID) String() string {
	return fmt.Sprintf("%d:%d", id.Slot(), id.Generation())
}

// RunFunc is a job's work. It is called once for every thread that takes part in the job, with that
// thread's id and its ordinal within the job. Ordinals run from 0 to the number of participating
// threads minus one.
type RunFunc func(params any, result any, threadID int, job JobID, ordinal int)

// Worker records live in memory taken from the job allocator, one per participating worker thread:
//
//	0 thread id  int32
//	4 signal id  int32
//	8 ordinal    int32
const workerRecordSize = 12

// TagJobWorkers marks the job allocator memory that holds worker records
const TagJobWorkers memutils.Tag = 0x4a4f4253

type workerRecord struct {
	threadID int
	signalID int
	ordinal  int
}

type job struct {
	id     JobID
	run    RunFunc
	params any
	result any

	includesMain bool
	workerCount  int
	records      []byte
	ordinals     *hashtable.Table[int]
	event        *threads.Event
	finished     atomic.Int32
}

// threadKey maps a thread id to a hash table key. Zero is reserved by the table.
func threadKey(threadID int) uint64 {
	return uint64(threadID) + 1
}

func (j *job) putRecord(index int, record workerRecord) {
	mem := j.records[index*workerRecordSize : (index+1)*workerRecordSize]
	binary.LittleEndian.PutUint32(mem[0:], uint32(int32(record.threadID)))
	binary.LittleEndian.PutUint32(mem[4:], uint32(int32(record.signalID)))
	binary.LittleEndian.PutUint32(mem[8:], uint32(int32(record.ordinal)))
}

func (j *job) record(index int) workerRecord {
	mem := j.records[index*workerRecordSize : (index+1)*workerRecordSize]
	return workerRecord{
		threadID: int(int32(binary.LittleEndian.Uint32(mem[0:]))),
		signalID: int(int32(binary.LittleEndian.Uint32(mem[4:]))),
		ordinal:  int(int32(binary.LittleEndian.Uint32(mem[8:]))),
	}
}

// recordIndex converts an ordinal into the index of the worker record that holds it. The main thread
// takes ordinal 0 when it participates and has no record.
func (j *job) recordIndex(ordinal int) int {
	if j.includesMain {
		return ordinal - 1
	}
	return ordinal
}

func (j *job) isFinished() bool {
	return int(j.finished.Load()) == j.workerCount
}
