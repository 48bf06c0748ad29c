package semclone

import (
	"log"
	"math/bits"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// SemanticPolicy interprets decoded x86 instructions against a machine
// state. It folds concrete values through the arithmetic core, seeds
// never-accessed registers and memory from the input group, and
// intercepts CALL, RET, INT and HLT.
//
// A policy instance drives exactly one run; the runner discards it when
// the run terminates.
type SemanticPolicy struct {
	state    *MachineState
	inputs   *InputGroup
	hasher   *AddressHasher
	oracle   PointerOracle
	provider *InstructionProvider
	out      *OutputGroup
	params   Params

	nInsns     uint64
	insn       *Instruction
	callTarget Value
}

// NewSemanticPolicy returns a new instance of SemanticPolicy bound to the
// given state, input source and output group.
func NewSemanticPolicy(state *MachineState, inputs *InputGroup, hasher *AddressHasher, oracle PointerOracle, provider *InstructionProvider, out *OutputGroup, params Params) *SemanticPolicy {
	return &SemanticPolicy{
		state:    state,
		inputs:   inputs,
		hasher:   hasher,
		oracle:   oracle,
		provider: provider,
		out:      out,
		params:   params,
	}
}

// ExecuteInstruction runs one instruction to completion. A returned
// *FaultError terminates the run; any other error is a programmer error.
func (p *SemanticPolicy) ExecuteInstruction(insn *Instruction) error {
	if err := p.startInstruction(insn); err != nil {
		return err
	}
	if err := p.dispatch(insn); err != nil {
		return err
	}
	return p.finishInstruction(insn)
}

// startInstruction charges the instruction against the budget and places
// the instruction pointer at its address.
func (p *SemanticPolicy) startInstruction(insn *Instruction) error {
	p.nInsns++
	if p.nInsns > p.params.Timeout {
		return NewFaultError(FaultInsnLimit)
	}
	p.insn = insn
	p.state.Registers.IP = NewValue(uint64(insn.Addr), Width32)
	p.state.Access.IP |= AccessWritten
	if p.params.Verbosity >= Effusive {
		log.Printf("[exec] %s", insn)
	}
	return nil
}

// finishInstruction credits the instruction to the output group and
// applies the call intercept: unless the callee is followed, a CALL is
// rewritten into a no-op that discards the pushed return address and
// clobbers EAX with a fresh integer input.
func (p *SemanticPolicy) finishInstruction(insn *Instruction) error {
	p.out.NInsns++
	if insn.Inst.Op != x86asm.CALL {
		return nil
	}

	target := p.callTarget
	var callee *Function
	if target.Known {
		callee = p.provider.FunctionAt(uint32(target.V))
	}
	if p.params.RecordCalls && target.Known {
		id := target.V
		if callee != nil {
			id = callee.ID
		}
		p.out.Callees = append(p.out.Callees, id)
	}
	if p.params.FollowCalls && callee != nil && !strings.HasSuffix(callee.Name, "@plt") {
		return nil
	}

	if p.params.Verbosity >= Effusive {
		log.Printf("[call] skip target=%s", target)
	}
	if err := p.writeRegister(x86asm.EIP, NewValue(uint64(insn.Addr)+uint64(insn.Len), Width32)); err != nil {
		return err
	}
	sp, err := p.readRegister(x86asm.ESP)
	if err != nil {
		return err
	} else if !sp.Known {
		return NewFaultError(FaultSemantics)
	}
	if err := p.writeRegister(x86asm.ESP, sp.Add(NewValue(4, Width32))); err != nil {
		return err
	}
	ret, err := p.inputs.NextInteger()
	if err != nil {
		return err
	}
	return p.writeRegister(x86asm.EAX, NewValue(ret, Width32))
}

func (p *SemanticPolicy) dispatch(insn *Instruction) error {
	inst := &insn.Inst

	// Sequential advance; transfers overwrite it.
	p.state.Registers.IP = NewValue(uint64(insn.Addr)+uint64(insn.Len), Width32)
	p.state.Access.IP |= AccessWritten

	switch inst.Op {
	case x86asm.NOP:
		return nil
	case x86asm.MOV:
		return p.executeMOV(inst)
	case x86asm.MOVZX:
		return p.executeMOVX(inst, false)
	case x86asm.MOVSX:
		return p.executeMOVX(inst, true)
	case x86asm.LEA:
		return p.executeLEA(inst)
	case x86asm.XCHG:
		return p.executeXCHG(inst)
	case x86asm.ADD, x86asm.ADC, x86asm.SUB, x86asm.SBB, x86asm.CMP:
		return p.executeAddSub(inst)
	case x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.TEST:
		return p.executeLogic(inst)
	case x86asm.NOT, x86asm.NEG:
		return p.executeUnary(inst)
	case x86asm.INC, x86asm.DEC:
		return p.executeIncDec(inst)
	case x86asm.SHL, x86asm.SHR, x86asm.SAR:
		return p.executeShift(inst)
	case x86asm.IMUL:
		return p.executeMul(inst, true)
	case x86asm.MUL:
		return p.executeMul(inst, false)
	case x86asm.PUSH:
		return p.executePUSH(inst)
	case x86asm.POP:
		return p.executePOP(inst)
	case x86asm.LEAVE:
		return p.executeLEAVE(inst)
	case x86asm.JMP:
		return p.executeJMP(inst)
	case x86asm.JE, x86asm.JNE, x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JS, x86asm.JNS:
		return p.executeJcc(inst)
	case x86asm.CALL:
		return p.executeCALL(inst)
	case x86asm.RET:
		return p.executeRET(inst)
	case x86asm.INT:
		return p.interrupt(inst)
	case x86asm.HLT:
		return NewFaultError(FaultHalt)
	default:
		return NewFaultError(FaultSemantics)
	}
}

func (p *SemanticPolicy) executeMOV(inst *x86asm.Inst) error {
	width := operandWidth(inst)
	src, err := p.readOperand(inst.Args[1], width)
	if err != nil {
		return err
	}
	return p.writeOperand(inst.Args[0], src)
}

func (p *SemanticPolicy) executeMOVX(inst *x86asm.Inst, signed bool) error {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return NewFaultError(FaultSemantics)
	}
	dstWidth := regWidth(dst)

	srcWidth := uint(inst.MemBytes) * 8
	if reg, ok := inst.Args[1].(x86asm.Reg); ok {
		srcWidth = regWidth(reg)
	}
	if dstWidth == 0 || srcWidth == 0 {
		return NewFaultError(FaultSemantics)
	}

	src, err := p.readOperand(inst.Args[1], srcWidth)
	if err != nil {
		return err
	}
	if signed {
		src = src.SExt(dstWidth)
	} else {
		src = src.ZExt(dstWidth)
	}
	return p.writeRegister(dst, src)
}

func (p *SemanticPolicy) executeLEA(inst *x86asm.Inst) error {
	m, ok := inst.Args[1].(x86asm.Mem)
	if !ok {
		return NewFaultError(FaultSemantics)
	}
	addr, _, err := p.memAddr(m)
	if err != nil {
		return err
	}
	return p.writeOperand(inst.Args[0], NewValue(uint64(addr), Width32))
}

func (p *SemanticPolicy) executeXCHG(inst *x86asm.Inst) error {
	width := operandWidth(inst)
	a, err := p.readOperand(inst.Args[0], width)
	if err != nil {
		return err
	}
	b, err := p.readOperand(inst.Args[1], width)
	if err != nil {
		return err
	}
	if err := p.writeOperand(inst.Args[0], b); err != nil {
		return err
	}
	return p.writeOperand(inst.Args[1], a)
}

func (p *SemanticPolicy) executeAddSub(inst *x86asm.Inst) error {
	width := operandWidth(inst)
	a, err := p.readOperand(inst.Args[0], width)
	if err != nil {
		return err
	}
	b, err := p.readOperand(inst.Args[1], width)
	if err != nil {
		return err
	}

	carry := NewBoolValue(false)
	if inst.Op == x86asm.ADC || inst.Op == x86asm.SBB {
		if carry, err = p.readFlag(FlagCF); err != nil {
			return err
		}
	}

	var r Value
	sub := false
	switch inst.Op {
	case x86asm.ADD, x86asm.ADC:
		r = a.Add(b).Add(carry.ZExt(width))
	case x86asm.SUB, x86asm.SBB, x86asm.CMP:
		r = a.Sub(b).Sub(carry.ZExt(width))
		sub = true
	}
	p.setArithFlags(a, b, carry, r, sub, false)

	if inst.Op == x86asm.CMP {
		return nil
	}
	return p.writeOperand(inst.Args[0], r)
}

func (p *SemanticPolicy) executeLogic(inst *x86asm.Inst) error {
	width := operandWidth(inst)
	a, err := p.readOperand(inst.Args[0], width)
	if err != nil {
		return err
	}
	b, err := p.readOperand(inst.Args[1], width)
	if err != nil {
		return err
	}

	var r Value
	switch inst.Op {
	case x86asm.AND, x86asm.TEST:
		r = a.And(b)
	case x86asm.OR:
		r = a.Or(b)
	case x86asm.XOR:
		r = a.Xor(b)
	}
	p.setLogicFlags(r)

	if inst.Op == x86asm.TEST {
		return nil
	}
	return p.writeOperand(inst.Args[0], r)
}

func (p *SemanticPolicy) executeUnary(inst *x86asm.Inst) error {
	width := operandWidth(inst)
	a, err := p.readOperand(inst.Args[0], width)
	if err != nil {
		return err
	}

	if inst.Op == x86asm.NOT {
		return p.writeOperand(inst.Args[0], a.Not())
	}

	r := a.Neg()
	p.setArithFlags(NewValue(0, width), a, NewBoolValue(false), r, true, false)
	return p.writeOperand(inst.Args[0], r)
}

func (p *SemanticPolicy) executeIncDec(inst *x86asm.Inst) error {
	width := operandWidth(inst)
	a, err := p.readOperand(inst.Args[0], width)
	if err != nil {
		return err
	}

	one := NewValue(1, width)
	var r Value
	sub := inst.Op == x86asm.DEC
	if sub {
		r = a.Sub(one)
	} else {
		r = a.Add(one)
	}
	// INC and DEC leave the carry flag alone.
	p.setArithFlags(a, one, NewBoolValue(false), r, sub, true)
	return p.writeOperand(inst.Args[0], r)
}

func (p *SemanticPolicy) executeShift(inst *x86asm.Inst) error {
	width := operandWidth(inst)
	a, err := p.readOperand(inst.Args[0], width)
	if err != nil {
		return err
	}
	count, err := p.readOperand(inst.Args[1], Width8)
	if err != nil {
		return err
	}

	if count.Known && count.V&0x1f == 0 {
		// Zero shifts leave the flags untouched.
		return p.writeOperand(inst.Args[0], a)
	}

	var r Value
	if !count.Known {
		r = NewUnknownValue(width)
	} else {
		n := NewValue(count.V&0x1f, Width8)
		switch inst.Op {
		case x86asm.SHL:
			r = a.Shl(n)
		case x86asm.SHR:
			r = a.LShr(n)
		case x86asm.SAR:
			r = a.AShr(n)
		}
	}

	p.writeFlag(FlagCF, NewUnknownValue(WidthBool))
	p.writeFlag(FlagOF, NewUnknownValue(WidthBool))
	p.writeFlag(FlagAF, NewUnknownValue(WidthBool))
	p.setResultFlags(r)
	return p.writeOperand(inst.Args[0], r)
}

func (p *SemanticPolicy) executeMul(inst *x86asm.Inst, signed bool) error {
	width := operandWidth(inst)

	switch countArgs(inst) {
	case 1:
		if width != Width32 {
			return NewFaultError(FaultSemantics)
		}
		a, err := p.readRegister(x86asm.EAX)
		if err != nil {
			return err
		}
		b, err := p.readOperand(inst.Args[0], width)
		if err != nil {
			return err
		}
		lo, hi := mulWide(a, b, signed)
		if err := p.writeRegister(x86asm.EAX, lo); err != nil {
			return err
		}
		if err := p.writeRegister(x86asm.EDX, hi); err != nil {
			return err
		}

	case 2:
		a, err := p.readOperand(inst.Args[0], width)
		if err != nil {
			return err
		}
		b, err := p.readOperand(inst.Args[1], width)
		if err != nil {
			return err
		}
		if err := p.writeOperand(inst.Args[0], a.Mul(b)); err != nil {
			return err
		}

	case 3:
		b, err := p.readOperand(inst.Args[1], width)
		if err != nil {
			return err
		}
		c, err := p.readOperand(inst.Args[2], width)
		if err != nil {
			return err
		}
		if err := p.writeOperand(inst.Args[0], b.Mul(c)); err != nil {
			return err
		}

	default:
		return NewFaultError(FaultSemantics)
	}

	for _, f := range []Flag{FlagCF, FlagOF, FlagAF, FlagZF, FlagSF, FlagPF} {
		p.writeFlag(f, NewUnknownValue(WidthBool))
	}
	return nil
}

// mulWide returns the low and high 32-bit halves of the 64-bit product.
func mulWide(a, b Value, signed bool) (lo, hi Value) {
	if !a.Known || !b.Known {
		return NewUnknownValue(Width32), NewUnknownValue(Width32)
	}
	var product uint64
	if signed {
		product = uint64(int64(int32(a.V)) * int64(int32(b.V)))
	} else {
		product = a.V * b.V
	}
	return NewValue(product, Width32), NewValue(product>>32, Width32)
}

func (p *SemanticPolicy) executePUSH(inst *x86asm.Inst) error {
	v, err := p.readOperand(inst.Args[0], Width32)
	if err != nil {
		return err
	}
	sp, err := p.readRegister(x86asm.ESP)
	if err != nil {
		return err
	} else if !sp.Known {
		return NewFaultError(FaultSemantics)
	}

	nsp := sp.Sub(NewValue(4, Width32))
	p.writeMemory(SS, uint32(nsp.V), v)
	return p.writeRegister(x86asm.ESP, nsp)
}

func (p *SemanticPolicy) executePOP(inst *x86asm.Inst) error {
	sp, err := p.readRegister(x86asm.ESP)
	if err != nil {
		return err
	} else if !sp.Known {
		return NewFaultError(FaultSemantics)
	}

	v, err := p.readMemory(SS, uint32(sp.V), Width32)
	if err != nil {
		return err
	}
	if err := p.writeRegister(x86asm.ESP, sp.Add(NewValue(4, Width32))); err != nil {
		return err
	}
	return p.writeOperand(inst.Args[0], v)
}

func (p *SemanticPolicy) executeLEAVE(inst *x86asm.Inst) error {
	bp, err := p.readRegister(x86asm.EBP)
	if err != nil {
		return err
	} else if !bp.Known {
		return NewFaultError(FaultSemantics)
	}

	v, err := p.readMemory(SS, uint32(bp.V), Width32)
	if err != nil {
		return err
	}
	if err := p.writeRegister(x86asm.EBP, v); err != nil {
		return err
	}
	return p.writeRegister(x86asm.ESP, bp.Add(NewValue(4, Width32)))
}

func (p *SemanticPolicy) executeJMP(inst *x86asm.Inst) error {
	target, err := p.readOperand(inst.Args[0], Width32)
	if err != nil {
		return err
	} else if !target.Known {
		return NewFaultError(FaultSemantics)
	}
	return p.writeRegister(x86asm.EIP, target)
}

func (p *SemanticPolicy) executeJcc(inst *x86asm.Inst) error {
	cond, err := p.condition(inst.Op)
	if err != nil {
		return err
	} else if !cond.Known {
		return NewFaultError(FaultSemantics)
	}
	if cond.V == 0 {
		return nil
	}

	target, err := p.readOperand(inst.Args[0], Width32)
	if err != nil {
		return err
	} else if !target.Known {
		return NewFaultError(FaultSemantics)
	}
	return p.writeRegister(x86asm.EIP, target)
}

// condition evaluates the predicate of a conditional jump from the flags.
func (p *SemanticPolicy) condition(op x86asm.Op) (Value, error) {
	flag := func(f Flag) (Value, error) { return p.readFlag(f) }

	switch op {
	case x86asm.JE:
		return flag(FlagZF)
	case x86asm.JNE:
		zf, err := flag(FlagZF)
		if err != nil {
			return Value{}, err
		}
		return zf.Not(), nil
	case x86asm.JB:
		return flag(FlagCF)
	case x86asm.JAE:
		cf, err := flag(FlagCF)
		if err != nil {
			return Value{}, err
		}
		return cf.Not(), nil
	case x86asm.JBE, x86asm.JA:
		cf, err := flag(FlagCF)
		if err != nil {
			return Value{}, err
		}
		zf, err := flag(FlagZF)
		if err != nil {
			return Value{}, err
		}
		cond := cf.Or(zf)
		if op == x86asm.JA {
			cond = cond.Not()
		}
		return cond, nil
	case x86asm.JL, x86asm.JGE:
		sf, err := flag(FlagSF)
		if err != nil {
			return Value{}, err
		}
		of, err := flag(FlagOF)
		if err != nil {
			return Value{}, err
		}
		cond := sf.Xor(of)
		if op == x86asm.JGE {
			cond = cond.Not()
		}
		return cond, nil
	case x86asm.JLE, x86asm.JG:
		zf, err := flag(FlagZF)
		if err != nil {
			return Value{}, err
		}
		sf, err := flag(FlagSF)
		if err != nil {
			return Value{}, err
		}
		of, err := flag(FlagOF)
		if err != nil {
			return Value{}, err
		}
		cond := zf.Or(sf.Xor(of))
		if op == x86asm.JG {
			cond = cond.Not()
		}
		return cond, nil
	case x86asm.JS:
		return flag(FlagSF)
	case x86asm.JNS:
		sf, err := flag(FlagSF)
		if err != nil {
			return Value{}, err
		}
		return sf.Not(), nil
	default:
		return Value{}, NewFaultError(FaultSemantics)
	}
}

// executeCALL performs the architectural call: push the return address
// and transfer to the target. finishInstruction decides whether the
// transfer stands or is rolled back into a skip.
func (p *SemanticPolicy) executeCALL(inst *x86asm.Inst) error {
	target, err := p.readOperand(inst.Args[0], Width32)
	if err != nil {
		return err
	}
	p.callTarget = target

	sp, err := p.readRegister(x86asm.ESP)
	if err != nil {
		return err
	} else if !sp.Known {
		return NewFaultError(FaultSemantics)
	}

	ret := NewValue(uint64(p.insn.Addr)+uint64(p.insn.Len), Width32)
	nsp := sp.Sub(NewValue(4, Width32))
	p.writeMemory(SS, uint32(nsp.V), ret)
	if err := p.writeRegister(x86asm.ESP, nsp); err != nil {
		return err
	}
	return p.writeRegister(x86asm.EIP, target)
}

func (p *SemanticPolicy) executeRET(inst *x86asm.Inst) error {
	sp, err := p.readRegister(x86asm.ESP)
	if err != nil {
		return err
	} else if !sp.Known {
		return NewFaultError(FaultSemantics)
	}

	target, err := p.readMemory(SS, uint32(sp.V), Width32)
	if err != nil {
		return err
	}

	pop := NewValue(4, Width32)
	if imm, ok := inst.Args[0].(x86asm.Imm); ok {
		pop = NewValue(4+uint64(imm), Width32)
	}
	if err := p.writeRegister(x86asm.ESP, sp.Add(pop)); err != nil {
		return err
	}

	if !target.Known {
		return NewFaultError(FaultSemantics)
	}
	return p.writeRegister(x86asm.EIP, target)
}

// interrupt handles INT n. The 0x80 vector is the system-call gate:
// the call number is optionally recorded and EAX is clobbered with a
// fresh integer input. Every other vector terminates the run.
func (p *SemanticPolicy) interrupt(inst *x86asm.Inst) error {
	imm, ok := inst.Args[0].(x86asm.Imm)
	if !ok || imm != 0x80 {
		return NewFaultError(FaultInterrupt)
	}

	if p.params.RecordSyscalls {
		ax, err := p.readRegister(x86asm.EAX)
		if err != nil {
			return err
		}
		if ax.Known {
			p.out.Syscalls = append(p.out.Syscalls, uint32(ax.V))
		}
	}

	ret, err := p.inputs.NextInteger()
	if err != nil {
		return err
	}
	return p.writeRegister(x86asm.EAX, NewValue(ret, Width32))
}

// readOperand evaluates an instruction argument to a value of the given
// width. Register reads narrower or wider than the argument's register
// are zero-extended or truncated; relative targets resolve against the
// end of the current instruction.
func (p *SemanticPolicy) readOperand(arg x86asm.Arg, width uint) (Value, error) {
	switch a := arg.(type) {
	case x86asm.Reg:
		v, err := p.readRegister(a)
		if err != nil {
			return Value{}, err
		}
		return v.ZExt(width), nil
	case x86asm.Mem:
		addr, seg, err := p.memAddr(a)
		if err != nil {
			return Value{}, err
		}
		return p.readMemory(seg, addr, width)
	case x86asm.Imm:
		return NewValue(uint64(int64(a)), width), nil
	case x86asm.Rel:
		next := uint64(p.insn.Addr) + uint64(p.insn.Len)
		return NewValue(next+uint64(int64(a)), Width32), nil
	default:
		return Value{}, NewFaultError(FaultSemantics)
	}
}

func (p *SemanticPolicy) writeOperand(arg x86asm.Arg, v Value) error {
	switch a := arg.(type) {
	case x86asm.Reg:
		if w := regWidth(a); w != 0 {
			v = v.ZExt(w)
		}
		return p.writeRegister(a, v)
	case x86asm.Mem:
		addr, seg, err := p.memAddr(a)
		if err != nil {
			return err
		}
		p.writeMemory(seg, addr, v)
		return nil
	default:
		return NewFaultError(FaultSemantics)
	}
}

// memAddr resolves a memory operand to a concrete address and segment.
// An unknown base or index register makes the address unresolvable and
// raises FaultSemantics.
func (p *SemanticPolicy) memAddr(m x86asm.Mem) (uint32, SegReg, error) {
	addr := uint32(int32(m.Disp))
	if m.Base != 0 {
		base, err := p.readRegister(m.Base)
		if err != nil {
			return 0, 0, err
		} else if !base.Known {
			return 0, 0, NewFaultError(FaultSemantics)
		}
		addr += uint32(base.V)
	}
	if m.Index != 0 {
		index, err := p.readRegister(m.Index)
		if err != nil {
			return 0, 0, err
		} else if !index.Known {
			return 0, 0, NewFaultError(FaultSemantics)
		}
		scale := uint32(m.Scale)
		if scale == 0 {
			scale = 1
		}
		addr += uint32(index.V) * scale
	}
	return addr, segmentOf(m), nil
}

// segmentOf returns the segment a memory operand reaches through: an
// explicit override wins, ESP/EBP-based addressing defaults to SS, and
// everything else goes through DS.
func segmentOf(m x86asm.Mem) SegReg {
	if s, ok := segRegOf(m.Segment); ok {
		return s
	}
	if m.Base == x86asm.ESP || m.Base == x86asm.EBP ||
		m.Index == x86asm.ESP || m.Index == x86asm.EBP {
		return SS
	}
	return DS
}

// readMemory reads an N-bit little-endian value. A RET reaching the
// initial stack top reads the planted sentinel return address. If any
// byte of the span is uninitialized, a value for the whole span is
// materialised from the input group or the address hasher and written
// back so later reads observe it again.
func (p *SemanticPolicy) readMemory(seg SegReg, addr uint32, width uint) (Value, error) {
	assert(width%8 == 0 && width <= Width32, "read memory: invalid width: %d", width)
	n := width / 8

	if p.insn != nil && p.insn.Inst.Op == x86asm.RET &&
		width == Width32 && seg == SS && addr == p.params.InitialStack {
		return NewValue(FuncRetAddr, Width32), nil
	}

	uninit := false
	parts := make([]Value, n)
	for i := uint(0); i < n; i++ {
		v, fresh := p.state.ReadByte(seg, addr+uint32(i))
		parts[i] = v
		if fresh {
			uninit = true
		}
	}
	if !uninit {
		v := parts[n-1]
		for i := int(n) - 2; i >= 0; i-- {
			v = v.Concat(parts[i])
		}
		return v, nil
	}

	var v Value
	if !p.params.InitMemory && p.params.IsMapped != nil && p.params.IsMapped(addr) {
		typ := TypeInteger
		if p.oracle != nil && p.oracle(addr) {
			typ = TypePointer
		}
		raw, err := p.inputs.NextValue(typ)
		if err != nil {
			return Value{}, err
		}
		v = NewValue(raw, width)
		if p.params.Verbosity >= Effusive {
			log.Printf("[seed] mem %s:%08x type=%s value=%s", seg, addr, typ, v)
		}
	} else {
		var raw uint64
		for i := uint(0); i < n; i++ {
			raw |= uint64(p.hasher.Hash(addr+uint32(i))) << (8 * i)
		}
		v = NewValue(raw, width)
	}

	for i := uint(0); i < n; i++ {
		p.state.WriteByte(seg, addr+uint32(i), v.Extract(8*i, Width8), AccessRead)
	}
	return v, nil
}

// writeMemory decomposes a value into little-endian byte writes.
func (p *SemanticPolicy) writeMemory(seg SegReg, addr uint32, v Value) {
	assert(v.Width%8 == 0 && v.Width <= Width32, "write memory: invalid width: %d", v.Width)
	for i := uint(0); i < v.Width/8; i++ {
		p.state.WriteByte(seg, addr+uint32(i), v.Extract(8*i, Width8), AccessWritten)
	}
}

// readRegister reads a register, seeding it from the input group on its
// first access. General-purpose slices seed the containing 32-bit
// register; the instruction pointer seeds from the pointer pool.
func (p *SemanticPolicy) readRegister(r x86asm.Reg) (Value, error) {
	if g, offset, width, ok := gprOf(r); ok {
		if p.state.Access.GPRs[g] == 0 && !p.state.Registers.GPRs[g].Known {
			raw, err := p.inputs.NextValue(TypeUnknown)
			if err != nil {
				return Value{}, err
			}
			p.state.Registers.GPRs[g] = NewValue(raw, Width32)
			if p.params.Verbosity >= Effusive {
				log.Printf("[seed] reg %s value=%d", g, raw)
			}
		}
		p.state.Access.GPRs[g] |= AccessRead
		v := p.state.Registers.GPRs[g]
		if width == Width32 {
			return v, nil
		}
		assert(offset == 0 || offset == 8, "read register %s: misaligned slice", r)
		return v.Extract(offset, width), nil
	}

	if s, ok := segRegOf(r); ok {
		if p.state.Access.Segs[s] == 0 && !p.state.Registers.Segs[s].Known {
			raw, err := p.inputs.NextValue(TypeInteger)
			if err != nil {
				return Value{}, err
			}
			p.state.Registers.Segs[s] = NewValue(raw, Width16)
		}
		p.state.Access.Segs[s] |= AccessRead
		return p.state.Registers.Segs[s], nil
	}

	if r == x86asm.EIP {
		if p.state.Access.IP == 0 && !p.state.Registers.IP.Known {
			raw, err := p.inputs.NextValue(TypePointer)
			if err != nil {
				return Value{}, err
			}
			p.state.Registers.IP = NewValue(raw, Width32)
		}
		p.state.Access.IP |= AccessRead
		return p.state.Registers.IP, nil
	}

	return Value{}, NewFaultError(FaultSemantics)
}

// writeRegister writes a register. Sub-register writes merge into the
// containing 32-bit register, preserving the untouched lanes.
func (p *SemanticPolicy) writeRegister(r x86asm.Reg, v Value) error {
	if g, offset, width, ok := gprOf(r); ok {
		assert(v.Width == width, "write register %s: invalid width: %d", r, v.Width)
		if width == Width32 {
			p.state.Registers.GPRs[g] = v
		} else {
			p.state.Registers.GPRs[g] = mergeSlice(p.state.Registers.GPRs[g], v, offset)
		}
		p.state.Access.GPRs[g] |= AccessWritten
		return nil
	}

	if s, ok := segRegOf(r); ok {
		assert(v.Width == Width16, "write register %s: invalid width: %d", r, v.Width)
		p.state.Registers.Segs[s] = v
		p.state.Access.Segs[s] |= AccessWritten
		return nil
	}

	if r == x86asm.EIP {
		assert(v.Width == Width32, "write register eip: invalid width: %d", v.Width)
		p.state.Registers.IP = v
		p.state.Access.IP |= AccessWritten
		return nil
	}

	return NewFaultError(FaultSemantics)
}

// mergeSlice replaces offset..offset+width of parent with v.
func mergeSlice(parent, v Value, offset uint) Value {
	assert(offset+v.Width <= Width32, "merge slice out of bounds: %d+%d", offset, v.Width)
	merged := v
	if offset > 0 {
		merged = merged.Concat(parent.Extract(0, offset))
	}
	if top := offset + v.Width; top < Width32 {
		merged = parent.Extract(top, Width32-top).Concat(merged)
	}
	return merged
}

// readFlag reads one flag bit, seeding it from the integer pool on its
// first access.
func (p *SemanticPolicy) readFlag(f Flag) (Value, error) {
	if p.state.Access.Flags[f] == 0 {
		raw, err := p.inputs.NextInteger()
		if err != nil {
			return Value{}, err
		}
		p.state.Registers.Flags[f] = NewValue(raw&1, WidthBool)
	}
	p.state.Access.Flags[f] |= AccessRead
	return p.state.Registers.Flags[f], nil
}

func (p *SemanticPolicy) writeFlag(f Flag, v Value) {
	assert(v.Width == WidthBool, "write flag: invalid width: %d", v.Width)
	p.state.Registers.Flags[f] = v
	p.state.Access.Flags[f] |= AccessWritten
}

// setArithFlags folds the flags of r = a ± b ± cin. keepCF leaves the
// carry flag alone (INC, DEC).
func (p *SemanticPolicy) setArithFlags(a, b, cin, r Value, sub, keepCF bool) {
	if !a.Known || !b.Known || !cin.Known {
		if !keepCF {
			p.writeFlag(FlagCF, NewUnknownValue(WidthBool))
		}
		for _, f := range []Flag{FlagOF, FlagAF, FlagZF, FlagSF, FlagPF} {
			p.writeFlag(f, NewUnknownValue(WidthBool))
		}
		return
	}

	sign := a.Width - 1
	as, bs, rs := a.Bit(sign).V, b.Bit(sign).V, r.Bit(sign).V
	if !keepCF {
		if sub {
			p.writeFlag(FlagCF, NewBoolValue(a.V < b.V+cin.V))
		} else {
			p.writeFlag(FlagCF, NewBoolValue(a.V+b.V+cin.V > bitmask(a.Width)))
		}
	}
	if sub {
		p.writeFlag(FlagOF, NewBoolValue(as != bs && rs != as))
	} else {
		p.writeFlag(FlagOF, NewBoolValue(as == bs && rs != as))
	}
	p.writeFlag(FlagAF, NewBoolValue((a.V^b.V^r.V)>>4&1 != 0))
	p.setResultFlags(r)
}

// setLogicFlags folds the flags of a bitwise result: carry and overflow
// are cleared, the adjust flag is architecturally undefined.
func (p *SemanticPolicy) setLogicFlags(r Value) {
	p.writeFlag(FlagCF, NewBoolValue(false))
	p.writeFlag(FlagOF, NewBoolValue(false))
	p.writeFlag(FlagAF, NewUnknownValue(WidthBool))
	p.setResultFlags(r)
}

// setResultFlags folds the zero, sign and parity flags of a result.
func (p *SemanticPolicy) setResultFlags(r Value) {
	if !r.Known {
		p.writeFlag(FlagZF, NewUnknownValue(WidthBool))
		p.writeFlag(FlagSF, NewUnknownValue(WidthBool))
		p.writeFlag(FlagPF, NewUnknownValue(WidthBool))
		return
	}
	p.writeFlag(FlagZF, NewBoolValue(r.V == 0))
	p.writeFlag(FlagSF, r.Bit(r.Width-1))
	p.writeFlag(FlagPF, NewBoolValue(bits.OnesCount8(uint8(r.V))%2 == 0))
}

// operandWidth returns the natural width of an instruction's operands:
// the destination register's width, the memory operand size, or the
// decoder's data size.
func operandWidth(inst *x86asm.Inst) uint {
	if reg, ok := inst.Args[0].(x86asm.Reg); ok {
		if w := regWidth(reg); w != 0 {
			return w
		}
	}
	if inst.MemBytes > 0 {
		return uint(inst.MemBytes) * 8
	}
	if inst.DataSize > 0 {
		return uint(inst.DataSize)
	}
	return Width32
}

// gprOf maps a decoder register to a general-purpose register slice.
func gprOf(r x86asm.Reg) (g GPR, offset, width uint, ok bool) {
	switch {
	case r >= x86asm.AL && r <= x86asm.BH:
		g = GPR(r - x86asm.AL)
		if g >= 4 {
			return g - 4, 8, Width8, true
		}
		return g, 0, Width8, true
	case r >= x86asm.AX && r <= x86asm.DI:
		return GPR(r - x86asm.AX), 0, Width16, true
	case r >= x86asm.EAX && r <= x86asm.EDI:
		return GPR(r - x86asm.EAX), 0, Width32, true
	}
	return 0, 0, 0, false
}

// segRegOf maps a decoder register to a segment register.
func segRegOf(r x86asm.Reg) (SegReg, bool) {
	if r >= x86asm.ES && r <= x86asm.GS {
		return SegReg(r - x86asm.ES), true
	}
	return 0, false
}

// regWidth returns the bit width of a decoder register, or zero if the
// register is not part of the interpreted machine.
func regWidth(r x86asm.Reg) uint {
	if _, _, w, ok := gprOf(r); ok {
		return w
	}
	if _, ok := segRegOf(r); ok {
		return Width16
	}
	if r == x86asm.EIP {
		return Width32
	}
	return 0
}

func countArgs(inst *x86asm.Inst) int {
	n := 0
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		n++
	}
	return n
}
