// Package report renders profiling results: hot symbol and region
// summaries plus annotated disassembly listings.
package report

import (
	"fmt"
	"io"

	"github.com/jitprof/jitprof/attribution"
	"github.com/jitprof/jitprof/disasm"
	"github.com/jitprof/jitprof/jvmtiasm"
	"github.com/jitprof/jitprof/perfscript"
)

// DefaultLimit bounds the number of entries in the hot summaries.
const DefaultLimit = 10

// interpreterName is the region emitted for the template interpreter. Its
// body is huge and machine generated, so listings skip it.
const interpreterName = "Interpreter"

// Options controls report rendering.
type Options struct {
	Limit    int  // top entries per summary; 0 means DefaultLimit
	Context  int  // instructions of context around hot ones; 0 means disasm.DefaultContext
	HexBytes bool // include raw instruction bytes in listings
}

func (o *Options) limit() int {
	if o == nil || o.Limit <= 0 {
		return DefaultLimit
	}
	return o.Limit
}

func (o *Options) context() int {
	if o == nil {
		return 0
	}
	return o.Context
}

func (o *Options) hexBytes() bool {
	return o != nil && o.HexBytes
}

// PrintHot writes the hot native symbols, the hot generated regions, and
// the annotated hot-only listing of each hot region. The assembly must
// already have samples attributed to it.
func PrintHot(w io.Writer, asm *jvmtiasm.Assembly, samples *perfscript.Output, opts *Options) error {
	limit := opts.limit()

	fmt.Fprintln(w, "Hot C functions:")
	native := 0
	for _, sym := range samples.TopSymbols() {
		if sym.DSO == attribution.JITDSO || sym.DSO == attribution.StubDSO {
			continue
		}
		if native == limit {
			break
		}
		fmt.Fprintf(w, "%8.2f%% %s\n", 100*float64(sym.Period)/float64(samples.TotalPeriod), sym.Symbol)
		native++
	}
	fmt.Fprintln(w)

	hot := asm.TopRegions(func(c *jvmtiasm.CompiledCodeInfo) bool { return c.TotalPeriod > 0 })
	if len(hot) > limit {
		hot = hot[:limit]
	}
	fmt.Fprintln(w, "Hot generated code:")
	for _, region := range hot {
		fmt.Fprintf(w, "%8.2f%% %s\n", 100*float64(region.TotalPeriod)/float64(samples.TotalPeriod), region.Name)
	}
	fmt.Fprintln(w)

	for _, region := range hot {
		if region.Name == interpreterName {
			continue
		}
		if err := printRegion(w, asm, region, opts, true); err != nil {
			return err
		}
	}
	return nil
}

// PrintAssembly writes the full annotated listing of every region in load
// order. Without attributed samples the listings simply carry no
// percentages.
func PrintAssembly(w io.Writer, asm *jvmtiasm.Assembly, opts *Options) error {
	for _, region := range asm.Regions {
		if region.Name == interpreterName {
			continue
		}
		if err := printRegion(w, asm, region, opts, false); err != nil {
			return err
		}
	}
	return nil
}

func printRegion(w io.Writer, asm *jvmtiasm.Assembly, region *jvmtiasm.CompiledCodeInfo, opts *Options, hotOnly bool) error {
	dec, err := disasm.NewDecoder(asm.Arch)
	if err != nil {
		return err
	}
	p := &disasm.Printer{
		Decoder:    dec,
		Annotators: []disasm.Annotator{StubCallAnnotator(asm), RegionAnnotator(region)},
		HexBytes:   opts.hexBytes(),
		Context:    opts.context(),
	}
	if _, err := fmt.Fprintln(w, region.Name); err != nil {
		return err
	}
	fmt.Fprintf(w, "0x%x-0x%x (samples=%d, period=%d)\n",
		region.Base, region.End(), region.TotalSamples, region.TotalPeriod)
	hot := make(map[uint64]struct{}, len(region.Events))
	for _, ev := range region.Events {
		hot[ev.PC] = struct{}{}
	}
	if err := p.Print(w, region.Code, region.Base, hot, hotOnly); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

// StubCallAnnotator names the target of direct calls into known stubs.
func StubCallAnnotator(asm *jvmtiasm.Assembly) disasm.Annotator {
	return func(inst *disasm.Instruction) *disasm.Annotation {
		if inst.Flow != disasm.FlowCall || !inst.HasTarget {
			return nil
		}
		name := asm.StubName(inst.Target)
		if name == "" {
			return nil
		}
		return &disasm.Annotation{Trailing: []string{name}}
	}
}

// RegionAnnotator surfaces per-instruction sample percentages and the
// inlined frame stack recorded in the region's debug info.
func RegionAnnotator(region *jvmtiasm.CompiledCodeInfo) disasm.Annotator {
	return func(inst *disasm.Instruction) *disasm.Annotation {
		leading, trailing := region.Annotations(inst.Address)
		if leading == "" && len(trailing) == 0 {
			return nil
		}
		return &disasm.Annotation{Leading: leading, Trailing: trailing}
	}
}
