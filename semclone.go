package semclone

import (
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
)

// FuncRetAddr is the sentinel return address planted at the top of the
// stack. When the instruction pointer reaches it the run has returned
// from the analyzed function.
const FuncRetAddr = 4083

// DefaultStackFrameSize is the span of addresses below the initial stack
// pointer treated as the function's private frame.
const DefaultStackFrameSize = 8192

// Fault represents a run-terminating condition recorded in the output group.
type Fault int

const (
	FaultNone        = Fault(iota)
	FaultDisassembly // no instruction at the instruction pointer
	FaultInsnLimit   // instruction budget exceeded
	FaultHalt        // HLT executed
	FaultInterrupt   // interrupt other than the syscall vector
	FaultSemantics   // instruction not handled by the interpreter
	FaultSMTSolver   // reserved; unused in concrete mode
	FaultInputLimit  // input pool exhausted under limited consumption
)

var faultNames = [...]string{
	FaultNone:        "none",
	FaultDisassembly: "disassembly",
	FaultInsnLimit:   "insn-limit",
	FaultHalt:        "halt",
	FaultInterrupt:   "interrupt",
	FaultSemantics:   "semantics",
	FaultSMTSolver:   "smt-solver",
	FaultInputLimit:  "input-limit",
}

// String returns the string representation of the fault.
func (f Fault) String() string {
	if f >= 0 && int(f) < len(faultNames) {
		return faultNames[f]
	}
	return fmt.Sprintf("Fault<%d>", int(f))
}

// FaultError carries a fault out of the interpreter to the runner.
// Faults are expected outcomes of a run, not programmer errors.
type FaultError struct {
	Fault Fault
}

// NewFaultError returns a new instance of FaultError for the given fault.
func NewFaultError(fault Fault) *FaultError {
	return &FaultError{Fault: fault}
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return fmt.Sprintf("fault: %s", e.Fault)
}

// ValueType classifies a consumed input value.
type ValueType int

const (
	TypeUnknown = ValueType(iota)
	TypeInteger
	TypePointer
)

// String returns the string representation of the value type.
func (t ValueType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypePointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// Verbosity controls how much the runner logs.
type Verbosity int

const (
	Silent = Verbosity(iota)
	Laconic
	Effusive
)

// PointerOracle classifies an address as holding a pointer. It is consulted
// once per uninitialized memory read that is seeded from the input group
// (a loader-mapped address with InitMemory off) to choose between the
// input pools; reads defaulted from the address hasher do not consult it.
type PointerOracle func(addr uint32) bool

// StaticPointerOracle returns an oracle backed by a fixed address set.
func StaticPointerOracle(addrs ...uint32) PointerOracle {
	m := make(map[uint32]struct{}, len(addrs))
	for _, addr := range addrs {
		m[addr] = struct{}{}
	}
	return func(addr uint32) bool {
		_, ok := m[addr]
		return ok
	}
}

// Params holds the tunable knobs of a function execution.
type Params struct {
	// Maximum number of instructions executed before FaultInsnLimit.
	Timeout uint64

	// How chatty the runner is.
	Verbosity Verbosity

	// Execute resolvable non-PLT calls instead of skipping them.
	FollowCalls bool

	// Default memory contents from the address hasher instead of the
	// input group, even for loader-mapped addresses.
	InitMemory bool

	// Stack pointer value installed at the start of a run.
	InitialStack uint32

	// Record call targets in the output group.
	RecordCalls bool

	// Record system call numbers in the output group.
	RecordSyscalls bool

	// Reports whether an address is mapped in the loader image.
	// A nil predicate treats every address as unmapped.
	IsMapped func(addr uint32) bool
}

// DefaultParams returns the default execution parameters.
func DefaultParams() Params {
	return Params{
		Timeout:      5000,
		Verbosity:    Silent,
		InitialStack: 0x80000000,
	}
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
