package registry

import (
	"encoding/binary"
	"fmt"

	"ntt/internal/storage"
	"ntt/internal/types"
)

// Key prefixes for transceiver records and their per-chain peers.
var (
	transceiverKeyPrefix     = []byte("t:")
	transceiverPeerKeyPrefix = []byte("tp:")
)

// Transceiver is one registered attestation channel. Indexes are
// assigned monotonically at registration and never reused; a
// transceiver is disabled, never deleted.
type Transceiver struct {
	Index   uint8  // Index is the registration-order index
	Kind    string // Kind names the channel (e.g. "wormhole")
	Enabled bool   // Enabled gates both attestation and emission
}

// Transceivers is the pebble-backed transceiver store.
type Transceivers struct {
	st *storage.Store // st is the shared state store
}

// NewTransceivers creates a transceiver store over the given store.
func NewTransceivers(st *storage.Store) *Transceivers {
	return &Transceivers{st: st}
}

// transceiverKey builds the storage key for one index.
func transceiverKey(index uint8) []byte {
	key := make([]byte, 0, len(transceiverKeyPrefix)+1)
	key = append(key, transceiverKeyPrefix...)
	key = append(key, index)

	return key
}

// transceiverPeerKey builds the storage key for one (index, chain)
// peer binding.
func transceiverPeerKey(index uint8, chain types.ChainID) []byte {
	key := make([]byte, 0, len(transceiverPeerKeyPrefix)+1+2)
	key = append(key, transceiverPeerKeyPrefix...)
	key = append(key, index)
	key = binary.BigEndian.AppendUint16(key, uint16(chain))

	return key
}

// encode serializes a transceiver for storage.
func (tr *Transceiver) encode() []byte {
	var enabled uint8
	if tr.Enabled {
		enabled = 1
	}

	buf := make([]byte, 0, 2+len(tr.Kind))
	buf = append(buf, enabled)
	buf = append(buf, uint8(len(tr.Kind)))
	buf = append(buf, tr.Kind...)

	return buf
}

// decodeTransceiver deserializes a transceiver produced by encode.
func decodeTransceiver(index uint8, data []byte) (*Transceiver, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("transceiver record too short: %d bytes", len(data))
	}

	kindLen := int(data[1])
	if len(data) != 2+kindLen {
		return nil, fmt.Errorf("transceiver kind length mismatch: have %d bytes, header says %d", len(data)-2, kindLen)
	}

	return &Transceiver{
		Index:   index,
		Kind:    string(data[2:]),
		Enabled: data[0] == 1,
	}, nil
}

// Get retrieves the transceiver at an index, or nil if the index was
// never assigned.
func (ts *Transceivers) Get(index uint8) (*Transceiver, error) {
	data, err := ts.st.Get(transceiverKey(index))
	if err != nil {
		return nil, fmt.Errorf("get transceiver:\n%w", err)
	}
	if data == nil {
		return nil, nil
	}

	return decodeTransceiver(index, data)
}

// Put stores the transceiver under its index.
func (ts *Transceivers) Put(tr *Transceiver) error {
	return ts.st.Set(transceiverKey(tr.Index), tr.encode())
}

// KV returns the storage pair for the transceiver, for composing
// atomic batches with other stores.
func (ts *Transceivers) KV(tr *Transceiver) storage.KeyValue {
	return storage.KeyValue{Key: transceiverKey(tr.Index), Value: tr.encode()}
}

// Iterate calls fn for every registered transceiver in index order.
func (ts *Transceivers) Iterate(fn func(*Transceiver) error) error {
	return ts.st.IteratePrefix(transceiverKeyPrefix, func(key, value []byte) error {
		if len(key) != len(transceiverKeyPrefix)+1 {
			return fmt.Errorf("invalid transceiver key: %x", key)
		}
		index := key[len(transceiverKeyPrefix)]

		tr, err := decodeTransceiver(index, value)
		if err != nil {
			return err
		}

		return fn(tr)
	})
}

// EnabledCount returns how many transceivers are currently enabled.
func (ts *Transceivers) EnabledCount() (int, error) {
	count := 0
	err := ts.Iterate(func(tr *Transceiver) error {
		if tr.Enabled {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// GetPeer retrieves the peer address a transceiver trusts on a chain.
// The second return is false when no binding exists.
func (ts *Transceivers) GetPeer(index uint8, chain types.ChainID) (types.UniversalAddress, bool, error) {
	data, err := ts.st.Get(transceiverPeerKey(index, chain))
	if err != nil {
		return types.UniversalAddress{}, false, fmt.Errorf("get transceiver peer:\n%w", err)
	}
	if data == nil {
		return types.UniversalAddress{}, false, nil
	}

	addr, err := types.AddressFromBytes(data)
	if err != nil {
		return types.UniversalAddress{}, false, fmt.Errorf("decode transceiver peer:\n%w", err)
	}

	return addr, true, nil
}

// PutPeer stores the peer address a transceiver trusts on a chain.
func (ts *Transceivers) PutPeer(index uint8, chain types.ChainID, addr types.UniversalAddress) error {
	return ts.st.Set(transceiverPeerKey(index, chain), addr[:])
}
