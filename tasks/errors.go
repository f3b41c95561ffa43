package tasks

import "github.com/pkg/errors"

var (
	// ErrNoIdleWorkers is returned by Dispatch with DispatchFreeNoMain when every worker is busy
	ErrNoIdleWorkers error = errors.New("no idle workers")
	// ErrInvalidJob is returned when a JobID does not name a live job
	ErrInvalidJob error = errors.New("invalid job id")
	// ErrInvalidThread is returned when a thread id is out of range
	ErrInvalidThread error = errors.New("invalid thread id")
	// ErrJobRunning is returned by Destroy when workers have not finished the job
	ErrJobRunning error = errors.New("job is still running")
)
