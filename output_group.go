package semclone

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// OutputGroup is the canonical, comparable summary of one function
// execution: the set of concrete values written to externally visible
// locations, optional ordered lists of called-function ids and system-call
// numbers, the terminating fault and the number of instructions executed.
//
// Values form a set so that the order of writes does not distinguish
// otherwise identical runs.
type OutputGroup struct {
	values   []uint32 // sorted, unique
	Callees  []uint64
	Syscalls []uint32
	Fault    Fault
	NInsns   uint64
}

// NewOutputGroup returns a new, empty output group.
func NewOutputGroup() *OutputGroup {
	return &OutputGroup{}
}

// AddValue inserts a concrete 32-bit value into the value set.
func (g *OutputGroup) AddValue(v uint32) {
	i := sort.Search(len(g.values), func(i int) bool { return g.values[i] >= v })
	if i < len(g.values) && g.values[i] == v {
		return
	}
	g.values = append(g.values, 0)
	copy(g.values[i+1:], g.values[i:])
	g.values[i] = v
}

// Values returns the value set in canonical (ascending) order.
func (g *OutputGroup) Values() []uint32 {
	return append([]uint32(nil), g.values...)
}

// Clear resets the group to its empty state.
func (g *OutputGroup) Clear() {
	g.values = g.values[:0]
	g.Callees = g.Callees[:0]
	g.Syscalls = g.Syscalls[:0]
	g.Fault = FaultNone
	g.NInsns = 0
}

// Clone returns a deep copy of the group.
func (g *OutputGroup) Clone() *OutputGroup {
	return &OutputGroup{
		values:   append([]uint32(nil), g.values...),
		Callees:  append([]uint64(nil), g.Callees...),
		Syscalls: append([]uint32(nil), g.Syscalls...),
		Fault:    g.Fault,
		NInsns:   g.NInsns,
	}
}

// Compare returns an integer comparing two output groups. The result will
// be 0 if g==other, -1 if g < other, and +1 if g > other. The order is the
// lexicographic composition of the value set, callee list, syscall list,
// fault and instruction count.
func (g *OutputGroup) Compare(other *OutputGroup) int {
	if cmp := compareUint32s(g.values, other.values); cmp != 0 {
		return cmp
	}
	if cmp := compareUint64s(g.Callees, other.Callees); cmp != 0 {
		return cmp
	}
	if cmp := compareUint32s(g.Syscalls, other.Syscalls); cmp != 0 {
		return cmp
	}
	if g.Fault < other.Fault {
		return -1
	} else if g.Fault > other.Fault {
		return 1
	}
	if g.NInsns < other.NInsns {
		return -1
	} else if g.NInsns > other.NInsns {
		return 1
	}
	return 0
}

// Equal returns true if every component of g matches other.
func (g *OutputGroup) Equal(other *OutputGroup) bool {
	return g.Compare(other) == 0
}

// String returns the string representation of the group.
func (g *OutputGroup) String() string {
	var buf bytes.Buffer
	buf.WriteString("(outputs {")
	for i, v := range g.values {
		if i > 0 {
			buf.WriteRune(' ')
		}
		fmt.Fprintf(&buf, "%d", v)
	}
	fmt.Fprintf(&buf, "} fault=%s insns=%d", g.Fault, g.NInsns)
	if len(g.Callees) > 0 {
		fmt.Fprintf(&buf, " callees=%d", g.Callees)
	}
	if len(g.Syscalls) > 0 {
		fmt.Fprintf(&buf, " syscalls=%d", g.Syscalls)
	}
	buf.WriteRune(')')
	return buf.String()
}

// MarshalBinary encodes the group into a little-endian byte form.
func (g *OutputGroup) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	write := func(v interface{}) {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	write(uint32(len(g.values)))
	write(g.values)
	write(uint32(len(g.Callees)))
	write(g.Callees)
	write(uint32(len(g.Syscalls)))
	write(g.Syscalls)
	write(uint32(g.Fault))
	write(g.NInsns)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a group encoded by MarshalBinary.
func (g *OutputGroup) UnmarshalBinary(data []byte) error {
	buf := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return err
	}
	g.values = make([]uint32, n)
	if err := binary.Read(buf, binary.LittleEndian, &g.values); err != nil {
		return err
	}
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return err
	}
	g.Callees = make([]uint64, n)
	if err := binary.Read(buf, binary.LittleEndian, &g.Callees); err != nil {
		return err
	}
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return err
	}
	g.Syscalls = make([]uint32, n)
	if err := binary.Read(buf, binary.LittleEndian, &g.Syscalls); err != nil {
		return err
	}
	var fault uint32
	if err := binary.Read(buf, binary.LittleEndian, &fault); err != nil {
		return err
	}
	g.Fault = Fault(fault)
	return binary.Read(buf, binary.LittleEndian, &g.NInsns)
}

func compareUint32s(a, b []uint32) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] < b[i] {
			return -1
		} else if a[i] > b[i] {
			return 1
		}
	}
	if len(a) < len(b) {
		return -1
	} else if len(a) > len(b) {
		return 1
	}
	return 0
}

func compareUint64s(a, b []uint64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] < b[i] {
			return -1
		} else if a[i] > b[i] {
			return 1
		}
	}
	if len(a) < len(b) {
		return -1
	} else if len(a) > len(b) {
		return 1
	}
	return 0
}
