// Package registry holds the manager's trust state: which remote
// manager speaks for each chain (peers) and which attestation channels
// are registered (transceivers), including the transceivers' own
// per-chain peer addresses. The two namespaces are deliberately
// separate; inbound validation must pass both.
package registry

import (
	"encoding/binary"
	"fmt"

	"ntt/internal/ratelimit"
	"ntt/internal/storage"
	"ntt/internal/types"
)

// peerKeyPrefix namespaces peer records in the store.
var peerKeyPrefix = []byte("p:")

// Peer is the trusted remote manager for one chain, together with the
// inbound capacity pool for transfers arriving from it.
type Peer struct {
	Manager  types.UniversalAddress // Manager is the remote manager's address
	Decimals uint8                  // Decimals is the token precision on the remote chain
	Inbound  ratelimit.State        // Inbound is the inbound capacity pool
}

// peerSize is the fixed encoded size of a Peer.
const peerSize = 32 + 1 + ratelimit.EncodedSize

// Peers is the pebble-backed peer store, keyed by chain.
type Peers struct {
	st *storage.Store // st is the shared state store
}

// NewPeers creates a peer store over the given store.
func NewPeers(st *storage.Store) *Peers {
	return &Peers{st: st}
}

// peerKey builds the storage key for one chain.
func peerKey(chain types.ChainID) []byte {
	key := make([]byte, 0, len(peerKeyPrefix)+2)
	key = append(key, peerKeyPrefix...)
	key = binary.BigEndian.AppendUint16(key, uint16(chain))

	return key
}

// encode serializes a peer for storage.
func (p *Peer) encode() []byte {
	buf := make([]byte, 0, peerSize)
	buf = append(buf, p.Manager[:]...)
	buf = append(buf, p.Decimals)
	buf = append(buf, p.Inbound.Encode()...)

	return buf
}

// decodePeer deserializes a peer produced by encode.
func decodePeer(data []byte) (*Peer, error) {
	if len(data) != peerSize {
		return nil, fmt.Errorf("invalid peer size: %d bytes", len(data))
	}

	p := &Peer{}
	copy(p.Manager[:], data[:32])
	p.Decimals = data[32]

	inbound, err := ratelimit.Decode(data[33:])
	if err != nil {
		return nil, fmt.Errorf("decode peer limiter:\n%w", err)
	}
	p.Inbound = inbound

	return p, nil
}

// Get retrieves the peer for a chain, or nil if none is registered.
func (ps *Peers) Get(chain types.ChainID) (*Peer, error) {
	data, err := ps.st.Get(peerKey(chain))
	if err != nil {
		return nil, fmt.Errorf("get peer:\n%w", err)
	}
	if data == nil {
		return nil, nil
	}

	return decodePeer(data)
}

// Put stores the peer for a chain.
func (ps *Peers) Put(chain types.ChainID, p *Peer) error {
	return ps.st.Set(peerKey(chain), p.encode())
}

// KV returns the storage pair for the peer, for composing atomic
// batches with other stores.
func (ps *Peers) KV(chain types.ChainID, p *Peer) storage.KeyValue {
	return storage.KeyValue{Key: peerKey(chain), Value: p.encode()}
}

// Iterate calls fn for every registered peer in chain order.
func (ps *Peers) Iterate(fn func(types.ChainID, *Peer) error) error {
	return ps.st.IteratePrefix(peerKeyPrefix, func(key, value []byte) error {
		if len(key) != len(peerKeyPrefix)+2 {
			return fmt.Errorf("invalid peer key: %x", key)
		}
		chain := types.ChainID(binary.BigEndian.Uint16(key[len(peerKeyPrefix):]))

		p, err := decodePeer(value)
		if err != nil {
			return err
		}

		return fn(chain, p)
	})
}
