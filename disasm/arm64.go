package disasm

import (
	"io"

	"golang.org/x/arch/arm64/arm64asm"
)

type arm64Decoder struct{}

func (arm64Decoder) Decode(code []byte, addr uint64) (Instruction, error) {
	if len(code) < 4 {
		return Instruction{}, io.ErrUnexpectedEOF
	}
	inst, err := arm64asm.Decode(code)
	if err != nil {
		return Instruction{}, err
	}
	mnemonic, opText := splitSyntax(arm64asm.GNUSyntax(inst))
	out := Instruction{
		Address:  addr,
		Mnemonic: mnemonic,
		OpText:   opText,
		Bytes:    code[:4],
	}
	classifyARM64(&out, inst)
	return out, nil
}

func classifyARM64(out *Instruction, inst arm64asm.Inst) {
	switch inst.Op {
	case arm64asm.B:
		if _, ok := inst.Args[0].(arm64asm.Cond); ok {
			out.Flow = FlowCondBranch
			arm64Target(out, inst.Args[1])
		} else {
			out.Flow = FlowBranch
			arm64Target(out, inst.Args[0])
		}
	case arm64asm.BL:
		out.Flow = FlowCall
		arm64Target(out, inst.Args[0])
	case arm64asm.BLR:
		out.Flow = FlowCall
	case arm64asm.BR:
		out.Flow = FlowIndirect
	case arm64asm.RET, arm64asm.ERET:
		out.Flow = FlowReturn
	case arm64asm.CBZ, arm64asm.CBNZ:
		out.Flow = FlowCondBranch
		arm64Target(out, inst.Args[1])
	case arm64asm.TBZ, arm64asm.TBNZ:
		out.Flow = FlowCondBranch
		arm64Target(out, inst.Args[2])
	}
}

func arm64Target(out *Instruction, arg arm64asm.Arg) {
	if rel, ok := arg.(arm64asm.PCRel); ok {
		out.Target = out.Address + uint64(int64(rel))
		out.HasTarget = true
	}
}
