package semclone

import (
	"log"

	"github.com/davecgh/go-spew/spew"
)

// FunctionRunner executes functions one at a time against a reusable
// machine state and reduces each execution to an output group. The
// sequence (function, params, input group, oracle) fully determines the
// result; running the same combination twice yields equal groups.
type FunctionRunner struct {
	state    *MachineState
	provider *InstructionProvider
	hasher   *AddressHasher
	params   Params
}

// NewFunctionRunner returns a new instance of FunctionRunner resolving
// instructions through provider.
func NewFunctionRunner(provider *InstructionProvider, params Params) *FunctionRunner {
	return &FunctionRunner{
		state:    NewMachineState(),
		provider: provider,
		hasher:   NewAddressHasher(0),
		params:   params,
	}
}

// Run executes fn seeded from inputs and returns the resulting output
// group. Faults terminate the run and are recorded in the group; only
// programmer errors are returned as errors.
func (r *FunctionRunner) Run(fn *Function, inputs *InputGroup, oracle PointerOracle) (*OutputGroup, error) {
	out := NewOutputGroup()
	r.state.ResetForAnalysis()
	inputs.Reset()

	if r.params.InitMemory {
		seed, err := inputs.NextInteger()
		if err != nil {
			return r.finish(fn, out, err)
		}
		r.hasher.Seed(uint32(seed))
	}

	r.state.Registers.IP = NewValue(uint64(fn.Entry), Width32)
	r.state.Access.IP |= AccessWritten
	for _, g := range []GPR{SP, BP} {
		r.state.Registers.GPRs[g] = NewValue(uint64(r.params.InitialStack), Width32)
		r.state.Access.GPRs[g] |= AccessWritten
	}

	// Callee-saved and caller-saved registers share one seed so that
	// calling-convention differences between compilers do not perturb
	// input consumption.
	seed, err := inputs.NextInteger()
	if err != nil {
		return r.finish(fn, out, err)
	}
	for _, g := range []GPR{BX, SI, DI, AX, CX, DX} {
		r.state.Registers.GPRs[g] = NewValue(seed, Width32)
		r.state.Access.GPRs[g] |= AccessWritten
	}

	if r.params.Verbosity >= Laconic {
		log.Printf("[run] begin %s entry=%08x", fn.Name, fn.Entry)
	}

	policy := NewSemanticPolicy(r.state, inputs, r.hasher, oracle, r.provider, out, r.params)
	for {
		ip := r.state.Registers.IP
		if !ip.Known {
			return r.finish(fn, out, NewFaultError(FaultSemantics))
		} else if uint32(ip.V) == FuncRetAddr {
			break
		}

		insn := r.provider.Get(uint32(ip.V))
		if insn == nil {
			return r.finish(fn, out, NewFaultError(FaultDisassembly))
		}
		if err := policy.ExecuteInstruction(insn); err != nil {
			return r.finish(fn, out, err)
		}
	}

	r.state.ExtractOutputs(out, r.params.InitialStack, DefaultStackFrameSize)
	if r.params.Verbosity >= Laconic {
		log.Printf("[run] end %s: %s", fn.Name, out)
	}
	if r.params.Verbosity >= Effusive {
		log.Printf("[run] state:\n%s", r.state.Dump())
		log.Printf("[run] outputs:\n%s", spew.Sdump(out))
	}
	return out, nil
}

// finish records a fault in the output group. Non-fault errors abort
// the run without a group.
func (r *FunctionRunner) finish(fn *Function, out *OutputGroup, err error) (*OutputGroup, error) {
	fe, ok := err.(*FaultError)
	if !ok {
		return nil, err
	}
	out.Fault = fe.Fault
	if r.params.Verbosity >= Laconic {
		log.Printf("[run] end %s: fault=%s", fn.Name, fe.Fault)
	}
	return out, nil
}
