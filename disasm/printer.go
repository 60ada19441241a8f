package disasm

import (
	"fmt"
	"io"
	"strings"
)

// Printer renders an annotated instruction listing: a prefix column for
// sample percentages, tab-aligned address/mnemonic/operand columns, and
// trailing comment lines for call targets and inlined frames.
type Printer struct {
	Decoder    Decoder
	Annotators []Annotator
	HexBytes   bool // append the raw instruction bytes to each line
	Context    int  // instructions of context around hot ones; 0 means DefaultContext
}

const tabWidth = 8

// Print decodes code loaded at addr and writes the listing to w. hot holds
// the sampled instruction addresses and is consumed; when hotOnly is set
// only the spans around hot instructions are printed, bracketed by
// numbered region markers, otherwise the whole listing is.
func (p *Printer) Print(w io.Writer, code []byte, addr uint64, hot map[uint64]struct{}, hotOnly bool) error {
	instructions := DecodeAll(p.Decoder, code, addr)
	spans := HotRegions(instructions, hot, p.Context)
	if !hotOnly {
		spans = []Span{{Begin: 0, End: len(instructions)}}
	}

	leading := make([]string, len(instructions))
	trailing := make([][]string, len(instructions))
	prefixWidth := 0
	for i := range instructions {
		leading[i], trailing[i] = annotate(p.Annotators, &instructions[i])
		prefixWidth = max(prefixWidth, len(leading[i]))
	}
	prefixWidth++

	for n, span := range spans {
		if hotOnly {
			if _, err := fmt.Fprintf(w, "Hot region %d\n", n+1); err != nil {
				return err
			}
		}
		for i := span.Begin; i < span.End; i++ {
			if err := p.printInstruction(w, &instructions[i], leading[i], trailing[i], prefixWidth); err != nil {
				return err
			}
		}
		if hotOnly {
			if _, err := fmt.Fprintf(w, "End of hot region %d\n", n+1); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) printInstruction(w io.Writer, inst *Instruction, leading string, trailing []string, prefixWidth int) error {
	hexBytes := ""
	if p.HexBytes {
		parts := make([]string, len(inst.Bytes))
		for i, b := range inst.Bytes {
			parts[i] = fmt.Sprintf("%02x", b)
		}
		hexBytes = strings.Join(parts, " ")
	}
	prefix := leading + strings.Repeat(" ", prefixWidth-len(leading))
	line := expandTabs(prefix + fmt.Sprintf("0x%x:\t%s\t%s\t%s", inst.Address, inst.Mnemonic, inst.OpText, hexBytes))
	if len(trailing) == 0 {
		_, err := fmt.Fprintln(w, line)
		return err
	}
	padding := strings.Repeat(" ", len(line))
	for i, a := range trailing {
		out := line
		if i > 0 {
			out = padding
		}
		if _, err := fmt.Fprintf(w, "%s; %s\n", out, a); err != nil {
			return err
		}
	}
	return nil
}

// expandTabs replaces each tab with the spaces needed to reach the next
// tabWidth column, keeping the listing's columns aligned no matter how
// long mnemonics and operands get.
func expandTabs(s string) string {
	var b strings.Builder
	col := 0
	for _, r := range s {
		if r == '\t' {
			n := tabWidth - col%tabWidth
			for ; n > 0; n-- {
				b.WriteByte(' ')
				col++
			}
			continue
		}
		b.WriteRune(r)
		col++
	}
	return b.String()
}
