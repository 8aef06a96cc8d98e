package types

import (
	"encoding/hex"
	"fmt"
)

// UniversalAddress is the fixed 32-byte address form shared by every
// chain in the protocol. Shorter native addresses (e.g. 20-byte EVM
// addresses) are left-padded with zeros at the boundary.
type UniversalAddress [32]byte

// ChainID identifies a chain in the protocol's numbering.
// Zero is reserved and never valid in a registration.
type ChainID uint16

// AddressFromBytes builds a UniversalAddress from exactly 32 bytes.
func AddressFromBytes(b []byte) (UniversalAddress, error) {
	var a UniversalAddress
	if len(b) != 32 {
		return a, fmt.Errorf("invalid address length: %d bytes", len(b))
	}
	copy(a[:], b)

	return a, nil
}

// LeftPadAddress builds a UniversalAddress from up to 32 bytes,
// zero-padding on the left.
func LeftPadAddress(b []byte) (UniversalAddress, error) {
	var a UniversalAddress
	if len(b) > 32 {
		return a, fmt.Errorf("address too long: %d bytes", len(b))
	}
	copy(a[32-len(b):], b)

	return a, nil
}

// AddressFromHex decodes a hex string (with or without 0x prefix) into
// a UniversalAddress, left-padding short values.
func AddressFromHex(s string) (UniversalAddress, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return UniversalAddress{}, fmt.Errorf("decode address hex:\n%w", err)
	}

	return LeftPadAddress(b)
}

// Hex returns the full 64-character hex encoding.
func (a UniversalAddress) Hex() string {
	return hex.EncodeToString(a[:])
}

// Short returns an abbreviated hex form for logging.
func (a UniversalAddress) Short() string {
	return hex.EncodeToString(a[:8])
}

// IsZero reports whether the address is all zeros.
func (a UniversalAddress) IsZero() bool {
	return a == UniversalAddress{}
}
