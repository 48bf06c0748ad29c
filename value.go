package semclone

import (
	"fmt"
)

// Value represents a word of bits with a fixed width. A value is either
// known, in which case it carries a concrete unsigned integer, or unknown.
// Operations fold constants; an operation with an unknown operand yields
// an unknown result of the appropriate width, except where a known operand
// alone decides the result (AND with zero, OR with all ones). Only known
// values are ever observed externally.
type Value struct {
	Width uint
	Known bool
	V     uint64
}

// NewValue returns a known value of the given width. The value is masked
// to the width.
func NewValue(v uint64, width uint) Value {
	return Value{Width: width, Known: true, V: v & bitmask(width)}
}

// NewUnknownValue returns an unknown value of the given width.
func NewUnknownValue(width uint) Value {
	return Value{Width: width}
}

// NewBoolValue returns a known 1-bit value.
func NewBoolValue(v bool) Value {
	if v {
		return Value{Width: WidthBool, Known: true, V: 1}
	}
	return Value{Width: WidthBool, Known: true, V: 0}
}

// String returns the string representation of the value.
func (v Value) String() string {
	if !v.Known {
		return fmt.Sprintf("(unknown %d)", v.Width)
	}
	return fmt.Sprintf("(const %d %d)", v.V, v.Width)
}

// IsTrue returns true if this is a known boolean true value.
func (v Value) IsTrue() bool {
	return v.Width == WidthBool && v.Known && v.V != 0
}

// IsFalse returns true if this is a known boolean false value.
func (v Value) IsFalse() bool {
	return v.Width == WidthBool && v.Known && v.V == 0
}

// IsAllOnes returns true if the value is known and all bits are one.
func (v Value) IsAllOnes() bool {
	return v.Known && v.V == bitmask(v.Width)
}

// Add returns the sum of v and other.
func (v Value) Add(other Value) Value {
	assert(v.Width == other.Width, "add: width mismatch: %d != %d", v.Width, other.Width)
	if !v.Known || !other.Known {
		return NewUnknownValue(v.Width)
	}
	return NewValue(v.V+other.V, v.Width)
}

// Sub returns the difference of v and other.
func (v Value) Sub(other Value) Value {
	assert(v.Width == other.Width, "sub: width mismatch: %d != %d", v.Width, other.Width)
	if !v.Known || !other.Known {
		return NewUnknownValue(v.Width)
	}
	return NewValue(v.V-other.V, v.Width)
}

// Mul returns the product of v and other.
func (v Value) Mul(other Value) Value {
	assert(v.Width == other.Width, "mul: width mismatch: %d != %d", v.Width, other.Width)
	if !v.Known || !other.Known {
		return NewUnknownValue(v.Width)
	}
	return NewValue(v.V*other.V, v.Width)
}

// And returns the bitwise AND of v and other.
func (v Value) And(other Value) Value {
	assert(v.Width == other.Width, "and: width mismatch: %d != %d", v.Width, other.Width)
	if v.Known && v.V == 0 {
		return v
	} else if other.Known && other.V == 0 {
		return other
	} else if !v.Known || !other.Known {
		return NewUnknownValue(v.Width)
	}
	return NewValue(v.V&other.V, v.Width)
}

// Or returns the bitwise OR of v and other.
func (v Value) Or(other Value) Value {
	assert(v.Width == other.Width, "or: width mismatch: %d != %d", v.Width, other.Width)
	if v.IsAllOnes() {
		return v
	} else if other.IsAllOnes() {
		return other
	} else if !v.Known || !other.Known {
		return NewUnknownValue(v.Width)
	}
	return NewValue(v.V|other.V, v.Width)
}

// Xor returns the bitwise XOR of v and other.
func (v Value) Xor(other Value) Value {
	assert(v.Width == other.Width, "xor: width mismatch: %d != %d", v.Width, other.Width)
	if !v.Known || !other.Known {
		return NewUnknownValue(v.Width)
	}
	return NewValue(v.V^other.V, v.Width)
}

// Not returns the bitwise NOT of v.
func (v Value) Not() Value {
	if !v.Known {
		return NewUnknownValue(v.Width)
	}
	return NewValue(^v.V, v.Width)
}

// Neg returns the two's complement negation of v.
func (v Value) Neg() Value {
	if !v.Known {
		return NewUnknownValue(v.Width)
	}
	return NewValue(-v.V, v.Width)
}

// Shl returns the value of v shifted left by n bits.
func (v Value) Shl(n Value) Value {
	if !v.Known || !n.Known {
		return NewUnknownValue(v.Width)
	} else if n.V >= uint64(v.Width) {
		return NewValue(0, v.Width)
	}
	return NewValue(v.V<<n.V, v.Width)
}

// LShr returns the value of v logically shifted right by n bits.
func (v Value) LShr(n Value) Value {
	if !v.Known || !n.Known {
		return NewUnknownValue(v.Width)
	} else if n.V >= uint64(v.Width) {
		return NewValue(0, v.Width)
	}
	return NewValue(v.V>>n.V, v.Width)
}

// AShr returns the value of v arithmetically shifted right by n bits.
func (v Value) AShr(n Value) Value {
	if !v.Known || !n.Known {
		return NewUnknownValue(v.Width)
	}
	shift := n.V
	if shift >= uint64(v.Width) {
		shift = uint64(v.Width) - 1
	}
	switch v.Width {
	case Width8:
		return NewValue(uint64(int8(v.V)>>shift), v.Width)
	case Width16:
		return NewValue(uint64(int16(v.V)>>shift), v.Width)
	case Width32:
		return NewValue(uint64(int32(v.V)>>shift), v.Width)
	default:
		panic(fmt.Sprintf("ashr: non-standard width: %d", v.Width))
	}
}

// Eq returns a 1-bit value for the equality of v and other.
func (v Value) Eq(other Value) Value {
	assert(v.Width == other.Width, "eq: width mismatch: %d != %d", v.Width, other.Width)
	if !v.Known || !other.Known {
		return NewUnknownValue(WidthBool)
	}
	return NewBoolValue(v.V == other.V)
}

// Ult returns a 1-bit value for the unsigned less-than comparison of v to other.
func (v Value) Ult(other Value) Value {
	assert(v.Width == other.Width, "ult: width mismatch: %d != %d", v.Width, other.Width)
	if !v.Known || !other.Known {
		return NewUnknownValue(WidthBool)
	}
	return NewBoolValue(v.V < other.V)
}

// Slt returns a 1-bit value for the signed less-than comparison of v to other.
func (v Value) Slt(other Value) Value {
	assert(v.Width == other.Width, "slt: width mismatch: %d != %d", v.Width, other.Width)
	if !v.Known || !other.Known {
		return NewUnknownValue(WidthBool)
	}
	switch v.Width {
	case Width8:
		return NewBoolValue(int8(v.V) < int8(other.V))
	case Width16:
		return NewBoolValue(int16(v.V) < int16(other.V))
	case Width32:
		return NewBoolValue(int32(v.V) < int32(other.V))
	default:
		panic(fmt.Sprintf("slt: non-standard width: %d", v.Width))
	}
}

// ZExt returns the zero-extension of v to a new width. Extending to a
// narrower width truncates.
func (v Value) ZExt(width uint) Value {
	if v.Width == width {
		return v
	} else if width < v.Width {
		return v.Extract(0, width)
	} else if !v.Known {
		return NewUnknownValue(width)
	}
	return NewValue(v.V, width)
}

// SExt returns the sign-extension of v to a new width. Extending to a
// narrower width truncates.
func (v Value) SExt(width uint) Value {
	if v.Width == width {
		return v
	} else if width < v.Width {
		return v.Extract(0, width)
	} else if !v.Known {
		return NewUnknownValue(width)
	}

	switch v.Width {
	case WidthBool:
		if v.V != 0 {
			return NewValue(bitmask(width), width)
		}
		return NewValue(0, width)
	case Width8:
		return NewValue(uint64(int8(v.V)), width)
	case Width16:
		return NewValue(uint64(int16(v.V)), width)
	case Width32:
		return NewValue(uint64(int32(v.V)), width)
	default:
		panic(fmt.Sprintf("sext: non-standard width: %d", v.Width))
	}
}

// Extract returns width number of bits starting at offset.
func (v Value) Extract(offset, width uint) Value {
	assert(width > 0, "extract: width cannot be zero")
	assert(offset+width <= v.Width, "extract out of bounds: %d+%d > %d", offset, width, v.Width)
	if !v.Known {
		return NewUnknownValue(width)
	}
	return NewValue(v.V>>offset, width)
}

// Concat returns the concatenation of v as the most significant bits and
// lsb as the least significant bits.
func (v Value) Concat(lsb Value) Value {
	width := v.Width + lsb.Width
	if !v.Known || !lsb.Known {
		return NewUnknownValue(width)
	}
	return NewValue((v.V<<lsb.Width)|lsb.V, width)
}

// Bit returns the 1-bit value at the given bit offset.
func (v Value) Bit(offset uint) Value {
	return v.Extract(offset, WidthBool)
}

func bitmask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}
