// Package attribution maps decoded perf samples onto the generated-code
// regions that were live at each sample's address and time.
package attribution

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/jitprof/jitprof/jvmtiasm"
	"github.com/jitprof/jitprof/perfscript"
)

// Labels rewritten into attributed events so downstream reports can group
// generated code the way perf groups shared objects.
const (
	StubDSO       = "[Generated]"
	JITDSO        = "[JIT]"
	UnknownSymbol = "[unknown]"
)

// DefaultMissingTolerance is how many in-range events may stay
// unattributed before a warning is logged. Code caches churn, so a few
// strays are normal.
const DefaultMissingTolerance = 50

type Options struct {
	// MissingTolerance overrides DefaultMissingTolerance when positive.
	MissingTolerance int
}

// Summary counts how the merged events were classified.
type Summary struct {
	Attributed int // events landed in a live region
	Missing    int // events inside the code cache bounds with no live region
	Unknown    int // events outside the bounds that perf itself could not symbolize
}

// Attribute walks the merged events and assigns each one falling inside
// the generated-code address bounds to the region live at its timestamp.
// Attributed events get their Symbol and DSO rewritten in place so reports
// read the way perf reports do. An assembly with no regions is an error;
// more missing events than the tolerance allows only warns.
func Attribute(asm *jvmtiasm.Assembly, samples *perfscript.Output, opts Options) (Summary, error) {
	if len(asm.Regions) == 0 {
		return Summary{}, errors.New("trace contains no code regions")
	}
	tolerance := opts.MissingTolerance
	if tolerance <= 0 {
		tolerance = DefaultMissingTolerance
	}
	low, high, _ := asm.Bounds()

	var sum Summary
	for _, ev := range samples.Events {
		if ev.PC < low || ev.PC >= high {
			if ev.Symbol == UnknownSymbol {
				sum.Unknown++
			}
			continue
		}
		region, err := asm.Find(ev.PC, ev.Timestamp)
		if err != nil {
			return sum, err
		}
		if region == nil {
			sum.Missing++
			continue
		}
		region.AddEvent(ev)
		if region.IsStub {
			ev.DSO = StubDSO
		} else {
			ev.DSO = JITDSO
		}
		ev.Symbol = region.Name
		sum.Attributed++
	}
	if sum.Missing > tolerance {
		log.Warnf("%d events of %d could not be mapped to generated code",
			sum.Missing, sum.Attributed+sum.Missing)
	}
	return sum, nil
}
