package jvmtiasm

import (
	"fmt"

	"github.com/jitprof/jitprof/perfscript"
)

// CompiledCodeInfo is one contiguous region of generated machine code:
// either a fixed helper stub or a JIT-compiled method body. The address
// range [Base, End()) is half-open and immutable after creation. Regions
// are never deleted; unloaded regions are kept for reporting.
type CompiledCodeInfo struct {
	Name     string
	LoadTime float64 // seconds, same clock as sample timestamps
	Base     uint64
	Code     []byte
	// IsStub marks helper/interpreter code that is never unloaded and is
	// always considered live for attribution.
	IsStub     bool
	Methods    []*Method    // ordered, first method names the region; empty for stubs
	DebugInfos []*DebugInfo // optional

	// Attribution results.
	Events       []*perfscript.Event
	TotalPeriod  int64
	TotalSamples int

	unloadTime float64
	unloaded   bool
}

func (c *CompiledCodeInfo) End() uint64 {
	return c.Base + uint64(len(c.Code))
}

func (c *CompiledCodeInfo) Size() int {
	return len(c.Code)
}

// Contains reports whether addr falls inside the region's address range,
// ignoring time.
func (c *CompiledCodeInfo) Contains(addr uint64) bool {
	return c.Base <= addr && addr < c.End()
}

// ContainsTimestamp reports whether the region was live at ts: loaded at or
// before ts and not yet unloaded.
func (c *CompiledCodeInfo) ContainsTimestamp(ts float64) bool {
	return ts >= c.LoadTime && (!c.unloaded || c.unloadTime > ts)
}

// ContainsAt reports whether addr falls inside the region and the region
// was live at ts. Stubs are always live, so only the address is checked.
func (c *CompiledCodeInfo) ContainsAt(addr uint64, ts float64) bool {
	if !c.Contains(addr) {
		return false
	}
	return c.IsStub || c.ContainsTimestamp(ts)
}

// SetUnloadTime records when the region was unloaded. Stubs tolerate the
// update but stay classified as always-live.
func (c *CompiledCodeInfo) SetUnloadTime(ts float64) {
	c.unloadTime = ts
	c.unloaded = true
}

// UnloadTime returns the unload timestamp and whether one was recorded.
func (c *CompiledCodeInfo) UnloadTime() (float64, bool) {
	return c.unloadTime, c.unloaded
}

// AddEvent attributes one merged sample event to this region.
func (c *CompiledCodeInfo) AddEvent(ev *perfscript.Event) {
	c.Events = append(c.Events, ev)
	c.TotalPeriod += ev.Period
	c.TotalSamples += ev.Count
}

// Annotations returns the display annotations for the instruction at pc:
// a sample-percentage prefix when a sample hit pc, and one line per inlined
// debug frame live at pc.
func (c *CompiledCodeInfo) Annotations(pc uint64) (leading string, trailing []string) {
	for _, ev := range c.Events {
		if ev.PC == pc {
			if c.TotalPeriod > 0 {
				leading = fmt.Sprintf("%5.2f%%", 100*float64(ev.Period)/float64(c.TotalPeriod))
			}
			break
		}
	}
	for _, di := range c.DebugInfos {
		if di.PC == pc {
			for _, frame := range di.Frames {
				trailing = append(trailing, frame.String())
			}
			break
		}
	}
	return leading, trailing
}

func (c *CompiledCodeInfo) String() string {
	unload := ""
	if c.unloaded {
		unload = fmt.Sprintf("%f", c.unloadTime)
	}
	return fmt.Sprintf("0x%x-0x%x %s %f-%s", c.Base, c.End(), c.Name, c.LoadTime, unload)
}
