// Package disasm decodes generated machine code into annotated, renderable
// instruction listings. Architecture support is limited to what the JVMTI
// capture agent emits traces for.
package disasm

import (
	"fmt"
)

// FlowKind classifies an instruction's effect on control flow.
type FlowKind int

const (
	FlowNone       FlowKind = iota
	FlowBranch              // unconditional branch with a static target
	FlowCondBranch          // conditional branch
	FlowCall                // call, direct or through a register
	FlowIndirect            // unconditional jump through a register or memory
	FlowReturn
)

// Instruction is one decoded machine instruction. Target is only
// meaningful when HasTarget is set; indirect flow never has one.
type Instruction struct {
	Address   uint64
	Mnemonic  string
	OpText    string
	Bytes     []byte
	Flow      FlowKind
	Target    uint64
	HasTarget bool
}

func (i *Instruction) Size() int {
	return len(i.Bytes)
}

// Decoder decodes the single instruction at the start of code, which sits
// at address addr in the profiled process.
type Decoder interface {
	Decode(code []byte, addr uint64) (Instruction, error)
}

// NewDecoder selects the decoder for the architecture string a trace
// header declares.
func NewDecoder(arch string) (Decoder, error) {
	switch arch {
	case "amd64", "x86_64":
		return x86Decoder{}, nil
	case "arm64", "aarch64":
		return arm64Decoder{}, nil
	}
	return nil, fmt.Errorf("unsupported architecture %q", arch)
}

// DecodeAll decodes the whole buffer. Undecodable bytes become one-byte
// ".byte" pseudo instructions so that every byte is accounted for and
// decoding resynchronizes on the next one.
func DecodeAll(d Decoder, code []byte, addr uint64) []Instruction {
	var out []Instruction
	off := 0
	for off < len(code) {
		inst, err := d.Decode(code[off:], addr+uint64(off))
		if err != nil || inst.Size() == 0 {
			inst = Instruction{
				Address:  addr + uint64(off),
				Mnemonic: ".byte",
				OpText:   fmt.Sprintf("%x", code[off]),
				Bytes:    code[off : off+1],
			}
		}
		out = append(out, inst)
		off += inst.Size()
	}
	return out
}

// Successors returns the statically known follow-on addresses: the
// fall-through unless flow leaves unconditionally, plus the resolved
// branch or call target when present.
func Successors(inst *Instruction) []uint64 {
	var out []uint64
	switch inst.Flow {
	case FlowBranch, FlowIndirect, FlowReturn:
	default:
		out = append(out, inst.Address+uint64(inst.Size()))
	}
	if inst.HasTarget {
		out = append(out, inst.Target)
	}
	return out
}
