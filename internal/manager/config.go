package manager

import (
	"encoding/binary"
	"fmt"

	"ntt/internal/ratelimit"
	"ntt/internal/storage"
	"ntt/internal/types"
)

// configKey locates the manager's durable configuration record.
var configKey = []byte("c:manager")

// configSize is the fixed encoded size of a Config.
const configSize = 32 + 2 + 1 + 32 + 1 + 32 + 32 + 32 + 32 + 1 + 1 + 1 + 8 + ratelimit.EncodedSize

// Config is the manager's durable configuration. It is loaded once at
// startup and written back as part of every state-changing batch.
type Config struct {
	Address       types.UniversalAddress // Address is this manager's universal address
	Chain         types.ChainID          // Chain is the chain this manager serves
	Mode          types.Mode             // Mode selects locking or burning custody
	Token         types.UniversalAddress // Token is the managed token's universal address
	TokenDecimals uint8                  // TokenDecimals is the token's local precision
	Custody       types.UniversalAddress // Custody is the escrow account used in locking mode

	Owner        types.UniversalAddress // Owner may call every administrative operation
	PendingOwner types.UniversalAddress // PendingOwner is the designated next owner, zero when none
	Pauser       types.UniversalAddress // Pauser may pause and unpause, zero when unset
	Paused       bool                   // Paused blocks transfer and redeem while set

	Threshold       uint8           // Threshold is the attestation count required to release
	NextTransceiver uint8           // NextTransceiver is the next registration index
	NextSequence    uint64          // NextSequence numbers the next outbound transfer
	Outbound        ratelimit.State // Outbound is the manager-wide outbound capacity pool
}

// validate checks a genesis configuration before first persist.
func (c *Config) validate() error {
	if c.Address.IsZero() {
		return fmt.Errorf("manager address is zero")
	}
	if c.Chain == 0 {
		return fmt.Errorf("chain id is zero")
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid mode: %d", c.Mode)
	}
	if c.Owner.IsZero() {
		return fmt.Errorf("owner is zero")
	}
	if c.Token.IsZero() {
		return fmt.Errorf("token is zero")
	}
	if c.Mode == types.Locking && c.Custody.IsZero() {
		return fmt.Errorf("locking mode needs a custody account")
	}

	return nil
}

func (c *Config) encode() []byte {
	buf := make([]byte, 0, configSize)
	buf = append(buf, c.Address[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(c.Chain))
	buf = append(buf, byte(c.Mode))
	buf = append(buf, c.Token[:]...)
	buf = append(buf, c.TokenDecimals)
	buf = append(buf, c.Custody[:]...)
	buf = append(buf, c.Owner[:]...)
	buf = append(buf, c.PendingOwner[:]...)
	buf = append(buf, c.Pauser[:]...)

	paused := byte(0)
	if c.Paused {
		paused = 1
	}
	buf = append(buf, paused)

	buf = append(buf, c.Threshold)
	buf = append(buf, c.NextTransceiver)
	buf = binary.BigEndian.AppendUint64(buf, c.NextSequence)
	buf = append(buf, c.Outbound.Encode()...)

	return buf
}

func decodeConfig(data []byte) (Config, error) {
	if len(data) != configSize {
		return Config{}, fmt.Errorf("invalid config size: %d bytes", len(data))
	}

	var c Config
	off := 0

	copy(c.Address[:], data[off:off+32])
	off += 32
	c.Chain = types.ChainID(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	c.Mode = types.Mode(data[off])
	off++
	copy(c.Token[:], data[off:off+32])
	off += 32
	c.TokenDecimals = data[off]
	off++
	copy(c.Custody[:], data[off:off+32])
	off += 32
	copy(c.Owner[:], data[off:off+32])
	off += 32
	copy(c.PendingOwner[:], data[off:off+32])
	off += 32
	copy(c.Pauser[:], data[off:off+32])
	off += 32
	c.Paused = data[off] == 1
	off++
	c.Threshold = data[off]
	off++
	c.NextTransceiver = data[off]
	off++
	c.NextSequence = binary.BigEndian.Uint64(data[off : off+8])
	off += 8

	outbound, err := ratelimit.Decode(data[off:])
	if err != nil {
		return Config{}, fmt.Errorf("decode outbound limiter:\n%w", err)
	}
	c.Outbound = outbound

	return c, nil
}

// kv builds the storage write that persists this configuration.
func (c *Config) kv() storage.KeyValue {
	return storage.KeyValue{Key: configKey, Value: c.encode()}
}
