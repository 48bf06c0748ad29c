package semclone_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/semclone/semclone"
)

// run decodes code at 0x1000 and executes it once.
func run(t *testing.T, code []byte, params semclone.Params, inputs *semclone.InputGroup) *semclone.OutputGroup {
	t.Helper()
	fn, err := semclone.DecodeFunction("f", 0x1000, code)
	if err != nil {
		t.Fatal(err)
	}
	provider := semclone.NewInstructionProvider(fn)
	runner := semclone.NewFunctionRunner(provider, params)
	out, err := runner.Run(fn, inputs, nil)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestFunctionRunner_Run(t *testing.T) {
	t.Run("EmptyFunction", func(t *testing.T) {
		// ret
		out := run(t, []byte{0xC3}, semclone.DefaultParams(), semclone.NewInputGroup(nil, nil))
		if out.Fault != semclone.FaultNone {
			t.Fatalf("unexpected fault: %s", out.Fault)
		}
		if diff := cmp.Diff([]uint32{0}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
		if out.NInsns != 1 {
			t.Fatalf("unexpected instruction count: %d", out.NInsns)
		}
	})

	t.Run("ReturnConstant", func(t *testing.T) {
		// mov eax, 42; ret
		out := run(t, []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3},
			semclone.DefaultParams(), semclone.NewInputGroup(nil, nil))
		if diff := cmp.Diff([]uint32{42}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
		if out.NInsns != 2 {
			t.Fatalf("unexpected instruction count: %d", out.NInsns)
		}
	})

	t.Run("Halt", func(t *testing.T) {
		// hlt
		out := run(t, []byte{0xF4}, semclone.DefaultParams(), semclone.NewInputGroup(nil, nil))
		if out.Fault != semclone.FaultHalt {
			t.Fatalf("unexpected fault: %s", out.Fault)
		}
		if len(out.Values()) != 0 {
			t.Fatalf("unexpected values: %v", out.Values())
		}
	})

	t.Run("InsnLimit", func(t *testing.T) {
		// jmp .
		params := semclone.DefaultParams()
		params.Timeout = 100
		out := run(t, []byte{0xEB, 0xFE}, params, semclone.NewInputGroup(nil, nil))
		if out.Fault != semclone.FaultInsnLimit {
			t.Fatalf("unexpected fault: %s", out.Fault)
		}
		if out.NInsns != 100 {
			t.Fatalf("unexpected instruction count: %d", out.NInsns)
		}
	})

	t.Run("FrameLocalWriteSuppressed", func(t *testing.T) {
		// mov dword [esp-4], 7; ret
		out := run(t, []byte{0xC7, 0x44, 0x24, 0xFC, 0x07, 0x00, 0x00, 0x00, 0xC3},
			semclone.DefaultParams(), semclone.NewInputGroup(nil, nil))
		if diff := cmp.Diff([]uint32{0}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("OutOfFrameWriteEmitted", func(t *testing.T) {
		// mov dword [esp+0x10000], 9; ret
		out := run(t, []byte{0xC7, 0x84, 0x24, 0x00, 0x00, 0x01, 0x00, 0x09, 0x00, 0x00, 0x00, 0xC3},
			semclone.DefaultParams(), semclone.NewInputGroup(nil, nil))
		if diff := cmp.Diff([]uint32{0, 9}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ConditionalBranch", func(t *testing.T) {
		// mov eax, 5; cmp eax, 5; je +5; mov eax, 1; ret
		code := []byte{
			0xB8, 0x05, 0x00, 0x00, 0x00,
			0x83, 0xF8, 0x05,
			0x74, 0x05,
			0xB8, 0x01, 0x00, 0x00, 0x00,
			0xC3,
		}
		out := run(t, code, semclone.DefaultParams(), semclone.NewInputGroup(nil, nil))
		if diff := cmp.Diff([]uint32{5}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
		if out.NInsns != 4 {
			t.Fatalf("unexpected instruction count: %d", out.NInsns)
		}
	})

	t.Run("UnresolvableCallSkipped", func(t *testing.T) {
		// call +0x100; ret
		out := run(t, []byte{0xE8, 0x00, 0x01, 0x00, 0x00, 0xC3},
			semclone.DefaultParams(), semclone.NewInputGroup([]uint64{7, 9}, nil))
		if out.Fault != semclone.FaultNone {
			t.Fatalf("unexpected fault: %s", out.Fault)
		}
		if diff := cmp.Diff([]uint32{9}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
		if out.NInsns != 2 {
			t.Fatalf("unexpected instruction count: %d", out.NInsns)
		}
	})

	t.Run("Syscall", func(t *testing.T) {
		// mov eax, 4; int 0x80; ret
		params := semclone.DefaultParams()
		params.RecordSyscalls = true
		out := run(t, []byte{0xB8, 0x04, 0x00, 0x00, 0x00, 0xCD, 0x80, 0xC3},
			params, semclone.NewInputGroup([]uint64{1, 2}, nil))
		if out.Fault != semclone.FaultNone {
			t.Fatalf("unexpected fault: %s", out.Fault)
		}
		if diff := cmp.Diff([]uint32{4}, out.Syscalls); diff != "" {
			t.Fatal(diff)
		}
		if diff := cmp.Diff([]uint32{2}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
		if out.NInsns != 3 {
			t.Fatalf("unexpected instruction count: %d", out.NInsns)
		}
	})

	t.Run("Interrupt", func(t *testing.T) {
		// int 3; ret
		out := run(t, []byte{0xCD, 0x03, 0xC3},
			semclone.DefaultParams(), semclone.NewInputGroup(nil, nil))
		if out.Fault != semclone.FaultInterrupt {
			t.Fatalf("unexpected fault: %s", out.Fault)
		}
	})

	t.Run("InputLimit", func(t *testing.T) {
		inputs := semclone.NewInputGroup(nil, nil)
		inputs.LimitConsumption = true
		out := run(t, []byte{0xC3}, semclone.DefaultParams(), inputs)
		if out.Fault != semclone.FaultInputLimit {
			t.Fatalf("unexpected fault: %s", out.Fault)
		}
	})

	t.Run("HashedDefaultMemory", func(t *testing.T) {
		// mov eax, [0x2000]; ret
		out := run(t, []byte{0xA1, 0x00, 0x20, 0x00, 0x00, 0xC3},
			semclone.DefaultParams(), semclone.NewInputGroup(nil, nil))

		h := semclone.NewAddressHasher(0)
		want := uint32(h.Hash(0x2000)) |
			uint32(h.Hash(0x2001))<<8 |
			uint32(h.Hash(0x2002))<<16 |
			uint32(h.Hash(0x2003))<<24
		if diff := cmp.Diff([]uint32{want}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("MappedMemorySeedsFromInputs", func(t *testing.T) {
		// mov eax, [0x2000]; ret
		params := semclone.DefaultParams()
		params.IsMapped = func(addr uint32) bool { return addr == 0x2000 }
		out := run(t, []byte{0xA1, 0x00, 0x20, 0x00, 0x00, 0xC3},
			params, semclone.NewInputGroup([]uint64{5, 77}, nil))
		if diff := cmp.Diff([]uint32{77}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("PointerOracleRoutesPool", func(t *testing.T) {
		// mov eax, [0x2000]; ret
		fn, err := semclone.DecodeFunction("f", 0x1000, []byte{0xA1, 0x00, 0x20, 0x00, 0x00, 0xC3})
		if err != nil {
			t.Fatal(err)
		}
		params := semclone.DefaultParams()
		params.IsMapped = func(addr uint32) bool { return true }
		runner := semclone.NewFunctionRunner(semclone.NewInstructionProvider(fn), params)

		inputs := semclone.NewInputGroup([]uint64{5}, []uint64{0x4000})
		oracle := semclone.StaticPointerOracle(0x2000)
		out, err := runner.Run(fn, inputs, oracle)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]uint32{0x4000}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		code := []byte{0xE8, 0x00, 0x01, 0x00, 0x00, 0xC3}
		inputs := semclone.NewInputGroup([]uint64{3, 4}, []uint64{0x4000})
		a := run(t, code, semclone.DefaultParams(), inputs)
		b := run(t, code, semclone.DefaultParams(), inputs)
		if !a.Equal(b) {
			t.Fatalf("unequal runs: %s != %s", a, b)
		}
	})
}

func TestFunctionRunner_FollowCalls(t *testing.T) {
	// callee at 0x2000: mov eax, 11; ret
	callee, err := semclone.DecodeFunction("callee", 0x2000, []byte{0xB8, 0x0B, 0x00, 0x00, 0x00, 0xC3})
	if err != nil {
		t.Fatal(err)
	}
	callee.ID = 2

	// caller at 0x1000: call 0x2000; ret
	caller, err := semclone.DecodeFunction("caller", 0x1000, []byte{0xE8, 0xFB, 0x0F, 0x00, 0x00, 0xC3})
	if err != nil {
		t.Fatal(err)
	}
	caller.ID = 1

	provider := semclone.NewInstructionProvider(caller, callee)

	t.Run("Followed", func(t *testing.T) {
		params := semclone.DefaultParams()
		params.FollowCalls = true
		runner := semclone.NewFunctionRunner(provider, params)
		out, err := runner.Run(caller, semclone.NewInputGroup([]uint64{1}, nil), nil)
		if err != nil {
			t.Fatal(err)
		}
		if out.Fault != semclone.FaultNone {
			t.Fatalf("unexpected fault: %s", out.Fault)
		}
		if diff := cmp.Diff([]uint32{11}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("RecordCalls", func(t *testing.T) {
		params := semclone.DefaultParams()
		params.RecordCalls = true
		runner := semclone.NewFunctionRunner(provider, params)
		out, err := runner.Run(caller, semclone.NewInputGroup([]uint64{1, 2}, nil), nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]uint64{2}, out.Callees); diff != "" {
			t.Fatal(diff)
		}
	})
}
