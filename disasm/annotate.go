package disasm

import (
	log "github.com/sirupsen/logrus"
)

// Annotation is one annotator's contribution for an instruction. Leading
// goes into the prefix column in front of the address; Trailing lines
// stack underneath the instruction, one per output line.
type Annotation struct {
	Leading  string
	Trailing []string
}

// Annotator inspects a decoded instruction and returns its annotation, or
// nil when it has nothing to say.
type Annotator func(inst *Instruction) *Annotation

// annotate runs all annotators in order. Only one leading annotation fits
// the prefix column; a second one means two annotators disagree about who
// owns the column, so it is dropped loudly.
func annotate(annotators []Annotator, inst *Instruction) (leading string, trailing []string) {
	for _, fn := range annotators {
		a := fn(inst)
		if a == nil {
			continue
		}
		if a.Leading != "" {
			if leading == "" {
				leading = a.Leading
			} else {
				log.Warnf("dropping conflicting leading annotation %q at 0x%x", a.Leading, inst.Address)
			}
		}
		trailing = append(trailing, a.Trailing...)
	}
	return leading, trailing
}
