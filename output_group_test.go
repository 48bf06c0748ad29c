package semclone_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/semclone/semclone"
)

func TestOutputGroup_AddValue(t *testing.T) {
	g := semclone.NewOutputGroup()
	for _, v := range []uint32{30, 10, 20, 10, 30} {
		g.AddValue(v)
	}
	if diff := cmp.Diff([]uint32{10, 20, 30}, g.Values()); diff != "" {
		t.Fatal(diff)
	}
}

func TestOutputGroup_Compare(t *testing.T) {
	t.Run("Equal", func(t *testing.T) {
		a, b := semclone.NewOutputGroup(), semclone.NewOutputGroup()
		a.AddValue(2)
		a.AddValue(1)
		b.AddValue(1)
		b.AddValue(2)
		if !a.Equal(b) {
			t.Fatal("expected equal groups")
		}
	})

	t.Run("ValueOrder", func(t *testing.T) {
		a, b := semclone.NewOutputGroup(), semclone.NewOutputGroup()
		a.AddValue(1)
		b.AddValue(2)
		if a.Compare(b) != -1 || b.Compare(a) != 1 {
			t.Fatal("unexpected ordering")
		}
	})

	t.Run("FaultDistinguishes", func(t *testing.T) {
		a, b := semclone.NewOutputGroup(), semclone.NewOutputGroup()
		b.Fault = semclone.FaultHalt
		if a.Equal(b) {
			t.Fatal("expected unequal groups")
		}
	})

	t.Run("InsnCountDistinguishes", func(t *testing.T) {
		a, b := semclone.NewOutputGroup(), semclone.NewOutputGroup()
		a.NInsns = 1
		b.NInsns = 2
		if a.Compare(b) != -1 {
			t.Fatal("unexpected ordering")
		}
	})
}

func TestOutputGroup_Clear(t *testing.T) {
	g := semclone.NewOutputGroup()
	g.AddValue(1)
	g.Callees = append(g.Callees, 2)
	g.Syscalls = append(g.Syscalls, 3)
	g.Fault = semclone.FaultHalt
	g.NInsns = 4
	g.Clear()
	if !g.Equal(semclone.NewOutputGroup()) {
		t.Fatalf("unexpected group after clear: %s", g)
	}
}

func TestOutputGroup_String(t *testing.T) {
	g := semclone.NewOutputGroup()
	g.AddValue(7)
	g.NInsns = 3
	s := g.String()
	if !strings.Contains(s, "7") || !strings.Contains(s, "fault=none") || !strings.Contains(s, "insns=3") {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestOutputGroup_MarshalBinary(t *testing.T) {
	g := semclone.NewOutputGroup()
	g.AddValue(0xDEADBEEF)
	g.AddValue(1)
	g.Callees = append(g.Callees, 99)
	g.Syscalls = append(g.Syscalls, 4)
	g.Fault = semclone.FaultInterrupt
	g.NInsns = 12345

	data, err := g.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var other semclone.OutputGroup
	if err := other.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if !g.Equal(&other) {
		t.Fatalf("round trip mismatch: %s != %s", g, &other)
	}
}
