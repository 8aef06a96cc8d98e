package types

import "testing"

// TestLeftPadAddress checks that short native addresses (e.g. 20-byte
// EVM addresses) land right-aligned with zero padding.
func TestLeftPadAddress(t *testing.T) {
	native := make([]byte, 20)
	for i := range native {
		native[i] = byte(i + 1)
	}

	a, err := LeftPadAddress(native)
	if err != nil {
		t.Fatalf("LeftPadAddress failed: %v", err)
	}

	for i := 0; i < 12; i++ {
		if a[i] != 0 {
			t.Fatalf("byte %d = %d, want 0 padding", i, a[i])
		}
	}
	if a[12] != 1 || a[31] != 20 {
		t.Errorf("native bytes misaligned: %x", a)
	}
}

func TestLeftPadAddress_TooLong(t *testing.T) {
	if _, err := LeftPadAddress(make([]byte, 33)); err == nil {
		t.Error("expected error for 33-byte input")
	}
}

func TestAddressFromHex(t *testing.T) {
	a, err := AddressFromHex("0xdeadbeef")
	if err != nil {
		t.Fatalf("AddressFromHex failed: %v", err)
	}

	if a[28] != 0xde || a[31] != 0xef {
		t.Errorf("decoded bytes misplaced: %x", a)
	}
	if a.IsZero() {
		t.Error("IsZero returned true for nonzero address")
	}

	if _, err := AddressFromHex("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestAddressHexRoundTrip(t *testing.T) {
	a := testAddress(0x5F)

	got, err := AddressFromHex(a.Hex())
	if err != nil {
		t.Fatalf("AddressFromHex failed: %v", err)
	}
	if got != a {
		t.Errorf("round trip mismatch: %x != %x", got, a)
	}
}

func TestModeParse(t *testing.T) {
	for _, m := range []Mode{Locking, Burning} {
		got, err := ParseMode(m.String())
		if err != nil {
			t.Fatalf("ParseMode(%s) failed: %v", m, err)
		}
		if got != m {
			t.Errorf("ParseMode(%s) = %v", m, got)
		}
	}

	if _, err := ParseMode("minting"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if Mode(7).Valid() {
		t.Error("Valid returned true for unknown mode")
	}
}
