//go:build linux

package threads

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// applyPriority sets the niceness of the calling OS thread. The caller must be locked to its OS thread.
func applyPriority(priority Priority) error {
	if priority == PriorityNormal {
		return nil
	}

	nice, ok := priorityNiceness[priority]
	if !ok {
		return errors.Newf("unknown thread priority %d", int32(priority))
	}

	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}
