package semclone

import (
	"math/rand"
)

// InputGroup is the deterministic, finite source of fresh values used to
// seed never-written machine state. It holds two ordered pools, one of
// integer values and one of pointer values, each consumed in sequence.
//
// Consumption past the end of a pool either raises FaultInputLimit (when
// LimitConsumption is set) or returns zero. The cursor advances past the
// end in both cases, so callers can distinguish "consumed exactly N" from
// "asked for more than N available".
type InputGroup struct {
	integers []uint64
	pointers []uint64

	nIntegers int
	nPointers int

	// Raise FaultInputLimit instead of returning zeroes past end-of-pool.
	LimitConsumption bool
}

// NewInputGroup returns a new instance of InputGroup with the given pools.
func NewInputGroup(integers, pointers []uint64) *InputGroup {
	g := &InputGroup{}
	g.integers = append(g.integers, integers...)
	g.pointers = append(g.pointers, pointers...)
	return g
}

// AddInteger appends a value to the integer pool.
func (g *InputGroup) AddInteger(v uint64) {
	g.integers = append(g.integers, v)
}

// AddPointer appends a value to the pointer pool.
func (g *InputGroup) AddPointer(v uint64) {
	g.pointers = append(g.pointers, v)
}

// Integers returns a copy of the integer pool.
func (g *InputGroup) Integers() []uint64 {
	return append([]uint64(nil), g.integers...)
}

// Pointers returns a copy of the pointer pool.
func (g *InputGroup) Pointers() []uint64 {
	return append([]uint64(nil), g.pointers...)
}

// NextInteger consumes the next value from the integer pool.
func (g *InputGroup) NextInteger() (uint64, error) {
	i := g.nIntegers
	g.nIntegers++
	if i >= len(g.integers) {
		if g.LimitConsumption {
			return 0, NewFaultError(FaultInputLimit)
		}
		return 0, nil
	}
	return g.integers[i], nil
}

// NextPointer consumes the next value from the pointer pool.
func (g *InputGroup) NextPointer() (uint64, error) {
	i := g.nPointers
	g.nPointers++
	if i >= len(g.pointers) {
		if g.LimitConsumption {
			return 0, NewFaultError(FaultInputLimit)
		}
		return 0, nil
	}
	return g.pointers[i], nil
}

// NextValue consumes a value from the pool matching typ.
// TypeUnknown routes to the integer pool.
func (g *InputGroup) NextValue(typ ValueType) (uint64, error) {
	if typ == TypePointer {
		return g.NextPointer()
	}
	return g.NextInteger()
}

// ConsumedIntegers returns the number of integer consumptions so far.
// May exceed the pool size.
func (g *InputGroup) ConsumedIntegers() int { return g.nIntegers }

// ConsumedPointers returns the number of pointer consumptions so far.
// May exceed the pool size.
func (g *InputGroup) ConsumedPointers() int { return g.nPointers }

// Reset rewinds both cursors so that the group can seed another run.
func (g *InputGroup) Reset() {
	g.nIntegers = 0
	g.nPointers = 0
}

// Shuffle permutes both pools using the supplied RNG.
func (g *InputGroup) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(g.integers), func(i, j int) {
		g.integers[i], g.integers[j] = g.integers[j], g.integers[i]
	})
	rng.Shuffle(len(g.pointers), func(i, j int) {
		g.pointers[i], g.pointers[j] = g.pointers[j], g.pointers[i]
	})
}

// GenerateInputGroup returns a group with nIntegers random integers and
// nPointers random word-aligned pointers drawn from the given RNG.
func GenerateInputGroup(rng *rand.Rand, nIntegers, nPointers int) *InputGroup {
	g := &InputGroup{}
	for i := 0; i < nIntegers; i++ {
		g.AddInteger(uint64(rng.Uint32()))
	}
	for i := 0; i < nPointers; i++ {
		g.AddPointer(uint64(rng.Uint32()) &^ 3)
	}
	return g
}
