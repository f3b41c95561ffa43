package threads

// Priority is a scheduling hint applied to a thread's OS thread when it starts. It is never used to
// order work.
type Priority int32

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityIdle
	PriorityHigh
	PriorityCritical
)

var priorityMapping = map[Priority]string{
	PriorityNormal:   "Normal",
	PriorityLow:      "Low",
	PriorityIdle:     "Idle",
	PriorityHigh:     "High",
	PriorityCritical: "Critical",
}

func (p Priority) String() string {
	return priorityMapping[p]
}

// Nice values used where the platform schedules by niceness. Raising priority above normal usually
// requires elevated privileges, and the failure is only logged.
var priorityNiceness = map[Priority]int{
	PriorityNormal:   0,
	PriorityLow:      5,
	PriorityIdle:     19,
	PriorityHigh:     -5,
	PriorityCritical: -10,
}
