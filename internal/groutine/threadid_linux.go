//go:build linux

package groutine

import "golang.org/x/sys/unix"

// ThreadID returns the kernel id of the OS thread running the caller.
// Only meaningful while the goroutine is locked to its thread.
func ThreadID() uint64 {
	return uint64(unix.Gettid())
}
