package semclone_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/semclone/semclone"
)

func TestMachineState_Memory(t *testing.T) {
	t.Run("WriteRead", func(t *testing.T) {
		s := semclone.NewMachineState()
		s.WriteByte(semclone.DS, 0x2000, semclone.NewValue(0xAB, semclone.Width8), semclone.AccessWritten)
		v, uninit := s.ReadByte(semclone.DS, 0x2000)
		if uninit {
			t.Fatal("expected initialised cell")
		} else if v.V != 0xAB {
			t.Fatalf("unexpected value: %x", v.V)
		}
	})

	t.Run("Uninitialised", func(t *testing.T) {
		s := semclone.NewMachineState()
		if _, uninit := s.ReadByte(semclone.DS, 0x3000); !uninit {
			t.Fatal("expected uninitialised cell")
		}
	})

	t.Run("AccessAccumulates", func(t *testing.T) {
		s := semclone.NewMachineState()
		s.WriteByte(semclone.DS, 0x10, semclone.NewValue(1, semclone.Width8), semclone.AccessWritten)
		s.ReadByte(semclone.DS, 0x10)
		cell, ok := s.CellAt(semclone.DS, 0x10)
		if !ok {
			t.Fatal("expected cell")
		}
		if cell.Access != semclone.AccessRead|semclone.AccessWritten {
			t.Fatalf("unexpected access: %d", cell.Access)
		}
	})

	t.Run("StackAndDataDisjoint", func(t *testing.T) {
		s := semclone.NewMachineState()
		s.WriteByte(semclone.SS, 0x100, semclone.NewValue(1, semclone.Width8), semclone.AccessWritten)
		if _, uninit := s.ReadByte(semclone.DS, 0x100); !uninit {
			t.Fatal("expected data cell to be untouched")
		}
	})
}

func TestMachineState_ExtractOutputs(t *testing.T) {
	const top = uint32(0x80000000)

	t.Run("EAX", func(t *testing.T) {
		s := semclone.NewMachineState()
		s.Registers.GPRs[semclone.AX] = semclone.NewValue(42, semclone.Width32)
		s.Access.GPRs[semclone.AX] = semclone.AccessWritten

		out := semclone.NewOutputGroup()
		s.ExtractOutputs(out, top, semclone.DefaultStackFrameSize)
		if diff := cmp.Diff([]uint32{42}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("EAXUnwritten", func(t *testing.T) {
		s := semclone.NewMachineState()
		s.Registers.GPRs[semclone.AX] = semclone.NewValue(42, semclone.Width32)

		out := semclone.NewOutputGroup()
		s.ExtractOutputs(out, top, semclone.DefaultStackFrameSize)
		if len(out.Values()) != 0 {
			t.Fatalf("unexpected values: %v", out.Values())
		}
	})

	t.Run("FrameLocalSuppressed", func(t *testing.T) {
		s := semclone.NewMachineState()
		s.WriteByte(semclone.SS, top-4, semclone.NewValue(7, semclone.Width8), semclone.AccessWritten)

		out := semclone.NewOutputGroup()
		s.ExtractOutputs(out, top, semclone.DefaultStackFrameSize)
		if len(out.Values()) != 0 {
			t.Fatalf("unexpected values: %v", out.Values())
		}
	})

	t.Run("OutOfFrameEmitted", func(t *testing.T) {
		s := semclone.NewMachineState()
		s.WriteByte(semclone.SS, top+0x10000, semclone.NewValue(9, semclone.Width8), semclone.AccessWritten)

		out := semclone.NewOutputGroup()
		s.ExtractOutputs(out, top, semclone.DefaultStackFrameSize)
		if diff := cmp.Diff([]uint32{9}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("DataCells", func(t *testing.T) {
		s := semclone.NewMachineState()
		s.WriteByte(semclone.DS, 0x2000, semclone.NewValue(5, semclone.Width8), semclone.AccessWritten)
		s.WriteByte(semclone.DS, 0x2001, semclone.NewValue(6, semclone.Width8), semclone.AccessRead)
		s.WriteByte(semclone.DS, 0x2002, semclone.NewUnknownValue(semclone.Width8), semclone.AccessWritten)

		out := semclone.NewOutputGroup()
		s.ExtractOutputs(out, top, semclone.DefaultStackFrameSize)
		if diff := cmp.Diff([]uint32{5}, out.Values()); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestMachineState_ResetForAnalysis(t *testing.T) {
	s := semclone.NewMachineState()
	s.Registers.GPRs[semclone.AX] = semclone.NewValue(1, semclone.Width32)
	s.Access.GPRs[semclone.AX] = semclone.AccessWritten
	s.WriteByte(semclone.DS, 0, semclone.NewValue(1, semclone.Width8), semclone.AccessWritten)
	s.WriteByte(semclone.SS, 0, semclone.NewValue(1, semclone.Width8), semclone.AccessWritten)

	s.ResetForAnalysis()
	if s.Registers.GPRs[semclone.AX].Known {
		t.Fatal("expected unknown register")
	} else if s.Access.GPRs[semclone.AX] != 0 {
		t.Fatal("expected cleared access")
	}
	if _, ok := s.CellAt(semclone.DS, 0); ok {
		t.Fatal("expected empty data map")
	}
	if _, ok := s.CellAt(semclone.SS, 0); ok {
		t.Fatal("expected empty stack map")
	}
}
