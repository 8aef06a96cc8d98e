package types

import "fmt"

// Mode selects the custody behavior of a manager, fixed at
// initialization and immutable thereafter.
type Mode uint8

const (
	// Locking escrows tokens on transfer and releases them on redeem.
	// The chain running in Locking mode holds the canonical supply.
	Locking Mode = 0
	// Burning burns tokens on transfer and mints them on redeem.
	Burning Mode = 1
)

// Valid reports whether the mode is a known variant.
func (m Mode) Valid() bool {
	return m == Locking || m == Burning
}

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case Locking:
		return "locking"
	case Burning:
		return "burning"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode converts a mode name to its Mode value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "locking":
		return Locking, nil
	case "burning":
		return Burning, nil
	default:
		return 0, fmt.Errorf("unknown mode: %q", s)
	}
}
