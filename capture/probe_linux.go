//go:build linux

package capture

import (
	perf "github.com/elastic/go-perf"
	"golang.org/x/sys/unix"
)

// EventsSupported reports whether the kernel lets this process open a
// cycles sampling event, which is what perf record will attempt.
func EventsSupported() bool {
	attr := new(perf.Attr)
	if err := perf.CPUCycles.Configure(attr); err != nil {
		return false
	}
	attr.Options.ExcludeKernel = true
	ev, err := perf.Open(attr, perf.CallingThread, perf.AnyCPU, nil)
	if err != nil {
		return false
	}
	ev.Close()
	return true
}

// MonotonicClockSupported reports whether perf events can be timestamped
// on the monotonic clock. Recording with -k 1 needs this, and it is what
// keeps perf timestamps comparable with the trace agent's.
func MonotonicClockSupported() bool {
	attr := new(perf.Attr)
	if err := perf.CPUCycles.Configure(attr); err != nil {
		return false
	}
	attr.Options.ExcludeKernel = true
	attr.ClockID = unix.CLOCK_MONOTONIC
	attr.Options.UseClockID = true
	ev, err := perf.Open(attr, perf.CallingThread, perf.AnyCPU, nil)
	if err != nil {
		return false
	}
	ev.Close()
	return true
}
