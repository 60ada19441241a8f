package disasm

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

type x86Decoder struct{}

var x86CondBranches = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JCXZ: true, x86asm.JE: true, x86asm.JECXZ: true, x86asm.JG: true,
	x86asm.JGE: true, x86asm.JL: true, x86asm.JLE: true, x86asm.JNE: true,
	x86asm.JNO: true, x86asm.JNP: true, x86asm.JNS: true, x86asm.JO: true,
	x86asm.JP: true, x86asm.JRCXZ: true, x86asm.JS: true,
	x86asm.LOOP: true, x86asm.LOOPE: true, x86asm.LOOPNE: true,
}

func (x86Decoder) Decode(code []byte, addr uint64) (Instruction, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return Instruction{}, err
	}
	mnemonic, opText := splitSyntax(x86asm.GNUSyntax(inst, addr, nil))
	out := Instruction{
		Address:  addr,
		Mnemonic: mnemonic,
		OpText:   opText,
		Bytes:    code[:inst.Len],
	}
	classifyX86(&out, inst)
	return out, nil
}

func classifyX86(out *Instruction, inst x86asm.Inst) {
	rel, direct := inst.Args[0].(x86asm.Rel)
	switch {
	case inst.Op == x86asm.CALL || inst.Op == x86asm.LCALL:
		out.Flow = FlowCall
	case inst.Op == x86asm.JMP || inst.Op == x86asm.LJMP:
		if direct {
			out.Flow = FlowBranch
		} else {
			out.Flow = FlowIndirect
		}
	case inst.Op == x86asm.RET || inst.Op == x86asm.LRET:
		out.Flow = FlowReturn
		return
	case x86CondBranches[inst.Op]:
		out.Flow = FlowCondBranch
	default:
		return
	}
	if direct {
		out.Target = out.Address + uint64(inst.Len) + uint64(int64(rel))
		out.HasTarget = true
	}
}

func splitSyntax(text string) (mnemonic, opText string) {
	if i := strings.IndexByte(text, ' '); i >= 0 {
		return text[:i], text[i+1:]
	}
	return text, ""
}
