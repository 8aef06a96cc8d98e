// Package queue holds the manager's two message queues: the inbox
// (inbound consensus and replay protection) and the outbox (outbound
// sequencing and re-broadcast). Both persist every record; inbox
// entries in particular are never deleted, as they double as the
// permanent replay-protection ledger.
package queue

import (
	"encoding/binary"
	"fmt"

	"ntt/internal/storage"
	"ntt/internal/types"
)

// inboxKeyPrefix namespaces inbox records in the store.
var inboxKeyPrefix = []byte("i:")

// ReleaseStatus is the lifecycle of an inbound transfer.
type ReleaseStatus uint8

const (
	// NotReleased means the transfer has not passed redeem yet.
	NotReleased ReleaseStatus = iota
	// ReleaseAfter means redeem ran but inbound capacity was short;
	// the transfer releases no earlier than the recorded time.
	ReleaseAfter
	// Released is terminal: the custody effect has been applied.
	Released
)

// String returns the lowercase status name.
func (s ReleaseStatus) String() string {
	switch s {
	case NotReleased:
		return "not_released"
	case ReleaseAfter:
		return "release_after"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// InboxItem is the consensus record for one inbound message: which
// transceivers vouched for it, whether it has been released, and the
// transfer it carries. Created on the first attestation and kept
// forever.
type InboxItem struct {
	Votes     Bitmap                 // Votes marks the transceiver indexes that attested
	Status    ReleaseStatus          // Status is the release lifecycle state
	ReleaseAt int64                  // ReleaseAt delays release while Status == ReleaseAfter
	Sender    types.UniversalAddress // Sender is the originating account on the source chain
	Recipient types.UniversalAddress // Recipient is the destination account
	Amount    types.TrimmedAmount    // Amount is the trimmed transfer amount
}

// inboxItemSize is the fixed encoded size of an InboxItem.
const inboxItemSize = 8 + 1 + 8 + 32 + 32 + 8 + 1

// Inbox is the pebble-backed inbox store, keyed by source chain and
// message digest.
type Inbox struct {
	st *storage.Store // st is the shared state store
}

// NewInbox creates an inbox over the given store.
func NewInbox(st *storage.Store) *Inbox {
	return &Inbox{st: st}
}

// inboxKey builds the storage key for one message.
func inboxKey(chain types.ChainID, digest types.Digest) []byte {
	key := make([]byte, 0, len(inboxKeyPrefix)+2+32)
	key = append(key, inboxKeyPrefix...)
	key = binary.BigEndian.AppendUint16(key, uint16(chain))
	key = append(key, digest[:]...)

	return key
}

// encode serializes an item for storage.
func (item *InboxItem) encode() []byte {
	buf := make([]byte, 0, inboxItemSize)
	buf = binary.BigEndian.AppendUint64(buf, uint64(item.Votes))
	buf = append(buf, uint8(item.Status))
	buf = binary.BigEndian.AppendUint64(buf, uint64(item.ReleaseAt))
	buf = append(buf, item.Sender[:]...)
	buf = append(buf, item.Recipient[:]...)
	buf = binary.BigEndian.AppendUint64(buf, item.Amount.Amount)
	buf = append(buf, item.Amount.Decimals)

	return buf
}

// decodeInboxItem deserializes an item produced by encode.
func decodeInboxItem(data []byte) (*InboxItem, error) {
	if len(data) != inboxItemSize {
		return nil, fmt.Errorf("invalid inbox item size: %d bytes", len(data))
	}

	item := &InboxItem{}
	item.Votes = Bitmap(binary.BigEndian.Uint64(data[0:8]))
	item.Status = ReleaseStatus(data[8])
	item.ReleaseAt = int64(binary.BigEndian.Uint64(data[9:17]))
	copy(item.Sender[:], data[17:49])
	copy(item.Recipient[:], data[49:81])
	item.Amount.Amount = binary.BigEndian.Uint64(data[81:89])
	item.Amount.Decimals = data[89]

	return item, nil
}

// Get retrieves the item for a message, or nil if it was never
// attested.
func (in *Inbox) Get(chain types.ChainID, digest types.Digest) (*InboxItem, error) {
	data, err := in.st.Get(inboxKey(chain, digest))
	if err != nil {
		return nil, fmt.Errorf("get inbox item:\n%w", err)
	}
	if data == nil {
		return nil, nil
	}

	return decodeInboxItem(data)
}

// Put stores the item for a message.
func (in *Inbox) Put(chain types.ChainID, digest types.Digest, item *InboxItem) error {
	return in.st.Set(inboxKey(chain, digest), item.encode())
}

// KV returns the storage pair for the item, for composing atomic
// batches with other stores.
func (in *Inbox) KV(chain types.ChainID, digest types.Digest, item *InboxItem) storage.KeyValue {
	return storage.KeyValue{Key: inboxKey(chain, digest), Value: item.encode()}
}
