package semclone_test

import (
	"testing"

	"github.com/semclone/semclone"
)

func TestAddressHasher(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a := semclone.NewAddressHasher(42)
		b := semclone.NewAddressHasher(42)
		for _, addr := range []uint32{0, 1, 0x1000, 0xDEADBEEF, 0xFFFFFFFF} {
			if a.Hash(addr) != b.Hash(addr) {
				t.Fatalf("hash mismatch at %08x", addr)
			}
		}
	})

	t.Run("Reseed", func(t *testing.T) {
		h := semclone.NewAddressHasher(1)
		before := h.Hash(0x4000)
		h.Seed(2)
		h.Seed(1)
		if got := h.Hash(0x4000); got != before {
			t.Fatalf("unexpected hash after reseed: %d != %d", got, before)
		}
	})

	t.Run("SeedSelectsTable", func(t *testing.T) {
		a := semclone.NewAddressHasher(1)
		b := semclone.NewAddressHasher(2)
		same := 0
		for addr := uint32(0); addr < 256; addr++ {
			if a.Hash(addr) == b.Hash(addr) {
				same++
			}
		}
		if same == 256 {
			t.Fatal("seeds 1 and 2 produced identical tables")
		}
	})
}
