//go:build linux

package netio

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its current OS
// thread and restricts that thread to run only on core, implementing
// spec.md section 5's "parallel OS threads, each pinned to a distinct
// CPU core." Callers must invoke this from the goroutine that will run
// the hot loop, before doing any work, and must never call
// runtime.UnlockOSThread afterwards (the goroutine is expected to
// live for the worker's lifetime).
func PinCurrentThread(core int) error {
	runtime.LockOSThread()

	if core < 0 {
		return fmt.Errorf("netio: invalid core %d", core)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(core)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("netio: pin to core %d: %w", core, err)
	}
	return nil
}
