//go:build !linux

package process

import (
	"fmt"
	"time"

	"github.com/scriptweaver/zr/internal/task"
)

// startResourceMonitor is a no-op on platforms without /proc: a requested
// memory limit is reported as an unenforced warning (spec.md §7
// ResourceError) rather than failing the task.
func startResourceMonitor(pid int, limitBytes int64, interval time.Duration, stop <-chan struct{}) (<-chan struct{}, error) {
	if limitBytes <= 0 {
		return nil, nil
	}
	return nil, &task.ResourceError{TaskName: fmt.Sprintf("pid %d", pid), Cause: fmt.Errorf("soft memory monitoring unsupported on this platform")}
}
