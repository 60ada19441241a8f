package disasm

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// DefaultContext is how many instructions of context are kept around hot
// instructions when filtering a listing.
const DefaultContext = 16

// Span is a half-open instruction index range [Begin, End).
type Span struct {
	Begin int
	End   int
}

// HotRegions partitions the instruction stream into spans around the
// instructions whose addresses appear in hot. A span opens context
// instructions before a hot one and closes once context instructions pass
// without another hit; a span still open at the end of the stream closes
// there. Matched addresses are removed from hot. Whatever remains never
// matched an instruction boundary, which means samples and disassembly
// disagree; that is reported as a warning, not an error. A context of 0 or
// less selects DefaultContext.
func HotRegions(instructions []Instruction, hot map[uint64]struct{}, context int) []Span {
	if context <= 0 {
		context = DefaultContext
	}
	var spans []Span
	open := false
	begin := 0
	gap := 0
	for i := range instructions {
		if _, ok := hot[instructions[i].Address]; ok {
			delete(hot, instructions[i].Address)
			gap = 0
			if !open {
				open = true
				begin = max(i-context, 0)
			}
			continue
		}
		gap++
		if open && gap >= context {
			spans = append(spans, Span{Begin: begin, End: i})
			open = false
			gap = 0
		}
	}
	if open {
		spans = append(spans, Span{Begin: begin, End: len(instructions)})
	}
	if len(hot) > 0 {
		pcs := make([]string, 0, len(hot))
		for pc := range hot {
			pcs = append(pcs, fmt.Sprintf("0x%x", pc))
		}
		sort.Strings(pcs)
		log.Warnf("unattributed pcs %v", pcs)
	}
	return spans
}
