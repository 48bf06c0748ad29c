package semclone

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Instruction is one decoded x86 instruction placed at an address.
type Instruction struct {
	Addr uint32
	Len  int
	Inst x86asm.Inst
}

// String returns the address and disassembly of the instruction.
func (i *Instruction) String() string {
	return fmt.Sprintf("%08x %s", i.Addr, i.Inst)
}

// Function is a disassembled function: a name, an entry address and the
// instructions decoded from its code bytes.
type Function struct {
	ID    uint64
	Name  string
	Entry uint32
	Code  []byte
	Insns []*Instruction
}

// DecodeFunction decodes code as 32-bit x86, linearly from entry, and
// returns the resulting function. Returns an error if any byte sequence
// fails to decode.
func DecodeFunction(name string, entry uint32, code []byte) (*Function, error) {
	fn := &Function{
		Name:  name,
		Entry: entry,
		Code:  append([]byte(nil), code...),
	}

	for offset := 0; offset < len(code); {
		inst, err := x86asm.Decode(code[offset:], 32)
		if err != nil {
			return nil, fmt.Errorf("decode %s+%#x: %w", name, offset, err)
		}
		if inst.Op == 0 {
			// The decoder reports truncated input as a bare prefix byte
			// with no opcode and no error.
			return nil, fmt.Errorf("decode %s+%#x: truncated instruction", name, offset)
		}
		fn.Insns = append(fn.Insns, &Instruction{
			Addr: entry + uint32(offset),
			Len:  inst.Len,
			Inst: inst,
		})
		offset += inst.Len
	}
	return fn, nil
}

// InstructionProvider is a read-only map from instruction address to the
// decoded instruction. It is built once from the set of functions to be
// analysed.
type InstructionProvider struct {
	insns map[uint32]*Instruction
	fns   map[uint32]*Function
}

// NewInstructionProvider returns a provider indexing every instruction of
// the given functions.
func NewInstructionProvider(fns ...*Function) *InstructionProvider {
	p := &InstructionProvider{
		insns: make(map[uint32]*Instruction),
		fns:   make(map[uint32]*Function),
	}
	for _, fn := range fns {
		p.fns[fn.Entry] = fn
		for _, insn := range fn.Insns {
			p.insns[insn.Addr] = insn
		}
	}
	return p
}

// Get returns the instruction at addr, or nil if none exists.
func (p *InstructionProvider) Get(addr uint32) *Instruction {
	return p.insns[addr]
}

// FunctionAt returns the function whose entry is at addr, or nil.
func (p *InstructionProvider) FunctionAt(addr uint32) *Function {
	return p.fns[addr]
}
