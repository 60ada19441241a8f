//go:build !linux

package capture

// EventsSupported reports whether perf events can be opened. Only Linux
// has them.
func EventsSupported() bool {
	return false
}

// MonotonicClockSupported reports whether perf events can be timestamped
// on the monotonic clock. Only Linux has them.
func MonotonicClockSupported() bool {
	return false
}
