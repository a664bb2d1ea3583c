//go:build !linux

package groutine

// ThreadID identifies the calling thread. Without a portable tid syscall the
// goroutine id stands in, which is stable for a goroutine locked to its thread.
func ThreadID() uint64 {
	return GetGID()
}
