package semclone

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// GPR indexes a general-purpose 32-bit register.
type GPR int

// General purpose registers.
const (
	AX = GPR(iota)
	CX
	DX
	BX
	SP
	BP
	SI
	DI
	gprCount
)

var gprNames = [...]string{
	AX: "eax", CX: "ecx", DX: "edx", BX: "ebx",
	SP: "esp", BP: "ebp", SI: "esi", DI: "edi",
}

// String returns the string representation of the register.
func (r GPR) String() string {
	if r >= 0 && int(r) < len(gprNames) {
		return gprNames[r]
	}
	return fmt.Sprintf("GPR<%d>", int(r))
}

// SegReg indexes a 16-bit segment register.
type SegReg int

// Segment registers.
const (
	ES = SegReg(iota)
	CS
	SS
	DS
	FS
	GS
	segCount
)

var segNames = [...]string{ES: "es", CS: "cs", SS: "ss", DS: "ds", FS: "fs", GS: "gs"}

// String returns the string representation of the segment register.
func (r SegReg) String() string {
	if r >= 0 && int(r) < len(segNames) {
		return segNames[r]
	}
	return fmt.Sprintf("SegReg<%d>", int(r))
}

// Flag indexes a single bit of the flags register. The indexes follow the
// x86 EFLAGS bit positions.
type Flag int

// Status flags.
const (
	FlagCF = Flag(0)
	FlagPF = Flag(2)
	FlagAF = Flag(4)
	FlagZF = Flag(6)
	FlagSF = Flag(7)
	FlagDF = Flag(10)
	FlagOF = Flag(11)

	flagCount = 32
)

// Access records how a register or memory cell has been touched.
// Bits only ever accumulate; once written, always written.
type Access uint8

const (
	AccessRead = Access(1 << iota)
	AccessWritten
)

// RegisterFile holds the data half of the register state: eight 32-bit
// general-purpose registers, six 16-bit segment registers, the instruction
// pointer and thirty-two single-bit flags.
type RegisterFile struct {
	GPRs  [gprCount]Value
	Segs  [segCount]Value
	IP    Value
	Flags [flagCount]Value
}

// AccessFile is the register file's shadow: one access mask per register.
type AccessFile struct {
	GPRs  [gprCount]Access
	Segs  [segCount]Access
	IP    Access
	Flags [flagCount]Access
}

// MemoryCell is one byte of memory together with its access mask.
type MemoryCell struct {
	Value  Value // 8-bit
	Access Access
}

// MachineState is the register file, its access shadow and two
// byte-granular memory maps. Addresses reached through the SS segment go
// to the stack map; every other segment reaches the data map. There is no
// paging and no protection; any 32-bit address is valid in both maps.
type MachineState struct {
	Registers RegisterFile
	Access    AccessFile

	stack *immutable.SortedMap
	data  *immutable.SortedMap
}

// NewMachineState returns a new, empty machine state.
func NewMachineState() *MachineState {
	s := &MachineState{}
	s.ResetForAnalysis()
	return s
}

// ResetForAnalysis clears both memory maps, the register file and the
// access file so the state can host another function's execution.
func (s *MachineState) ResetForAnalysis() {
	s.Registers = RegisterFile{}
	s.Access = AccessFile{}
	for i := range s.Registers.GPRs {
		s.Registers.GPRs[i] = NewUnknownValue(Width32)
	}
	for i := range s.Registers.Segs {
		s.Registers.Segs[i] = NewUnknownValue(Width16)
	}
	s.Registers.IP = NewUnknownValue(Width32)
	for i := range s.Registers.Flags {
		s.Registers.Flags[i] = NewUnknownValue(WidthBool)
	}
	s.stack = immutable.NewSortedMap(&uint32Comparer{})
	s.data = immutable.NewSortedMap(&uint32Comparer{})
}

// mem returns the memory map reached through the given segment.
func (s *MachineState) mem(seg SegReg) *immutable.SortedMap {
	if seg == SS {
		return s.stack
	}
	return s.data
}

func (s *MachineState) setMem(seg SegReg, m *immutable.SortedMap) {
	if seg == SS {
		s.stack = m
	} else {
		s.data = m
	}
}

// WriteByte stores an 8-bit value at the given address, merging mask into
// the cell's access bits.
func (s *MachineState) WriteByte(seg SegReg, addr uint32, value Value, mask Access) {
	assert(value.Width == Width8, "write byte: invalid width: %d", value.Width)

	cell := MemoryCell{Value: value, Access: mask}
	if prev, ok := s.mem(seg).Get(addr); ok {
		cell.Access |= prev.(MemoryCell).Access
	}
	s.setMem(seg, s.mem(seg).Set(addr, cell))
}

// ReadByte returns the 8-bit value at the given address. The second return
// value reports whether the cell has never been touched; in that case the
// returned value is arbitrary and the caller is expected to materialise a
// replacement.
func (s *MachineState) ReadByte(seg SegReg, addr uint32) (Value, bool) {
	v, ok := s.mem(seg).Get(addr)
	if !ok {
		return NewUnknownValue(Width8), true
	}
	cell := v.(MemoryCell)
	cell.Access |= AccessRead
	s.setMem(seg, s.mem(seg).Set(addr, cell))
	return cell.Value, false
}

// CellAt returns the memory cell at the given address, if present.
func (s *MachineState) CellAt(seg SegReg, addr uint32) (MemoryCell, bool) {
	v, ok := s.mem(seg).Get(addr)
	if !ok {
		return MemoryCell{}, false
	}
	return v.(MemoryCell), true
}

// ExtractOutputs projects the externally visible effects of the state into
// an output group:
//
//  1. The EAX register, if written and known.
//  2. Every written, known stack cell outside the local frame
//     (stackFrameTop-frameSize, stackFrameTop].
//  3. Every written, known data cell.
//
// Writes inside the local frame are the function's private scratch space
// and never appear in the output.
func (s *MachineState) ExtractOutputs(out *OutputGroup, stackFrameTop, frameSize uint32) {
	if s.Access.GPRs[AX]&AccessWritten != 0 && s.Registers.GPRs[AX].Known {
		out.AddValue(uint32(s.Registers.GPRs[AX].V))
	}

	frameBottom := stackFrameTop - frameSize
	itr := s.stack.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		addr, cell := k.(uint32), v.(MemoryCell)
		if cell.Access&AccessWritten == 0 || !cell.Value.Known {
			continue
		}
		if addr > frameBottom && addr <= stackFrameTop {
			continue // frame-local
		}
		out.AddValue(uint32(cell.Value.V))
	}

	itr = s.data.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		_, cell := k.(uint32), v.(MemoryCell)
		if cell.Access&AccessWritten == 0 || !cell.Value.Known {
			continue
		}
		out.AddValue(uint32(cell.Value.V))
	}
}

// Dump returns the contents of the state as a string.
func (s *MachineState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "MACHINE STATE")
	fmt.Fprintln(&buf, "=============")
	for i := GPR(0); i < gprCount; i++ {
		fmt.Fprintf(&buf, "%s=%s access=%d\n", i, s.Registers.GPRs[i], s.Access.GPRs[i])
	}
	fmt.Fprintf(&buf, "eip=%s access=%d\n", s.Registers.IP, s.Access.IP)
	for i := SegReg(0); i < segCount; i++ {
		fmt.Fprintf(&buf, "%s=%s access=%d\n", i, s.Registers.Segs[i], s.Access.Segs[i])
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== STACK")
	buf.WriteString(dumpMemory(s.stack))
	fmt.Fprintln(&buf, "== DATA")
	buf.WriteString(dumpMemory(s.data))
	return buf.String()
}

func dumpMemory(m *immutable.SortedMap) string {
	var buf bytes.Buffer
	itr := m.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		cell := v.(MemoryCell)
		fmt.Fprintf(&buf, "%08x %s access=%d\n", k.(uint32), cell.Value, cell.Access)
	}
	return buf.String()
}

// uint32Comparer compares two 32-bit unsigned integers. Implements immutable.Comparer.
type uint32Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b,
// and returns 0 if a is equal to b. Panic if a or b is not a uint32.
func (c *uint32Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint32), b.(uint32); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
