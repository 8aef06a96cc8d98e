package queue

import (
	"encoding/binary"
	"fmt"

	"ntt/internal/storage"
	"ntt/internal/types"
)

// outboxKeyPrefix namespaces outbox records in the store.
var outboxKeyPrefix = []byte("o:")

// Outbox item flag bits.
const (
	flagConsumed  = 1 << 0 // outbound capacity has been deducted
	flagCancelled = 1 << 1 // item was cancelled before any emission
)

// OutboxItem is one outbound transfer: the sequence it was assigned,
// the transfer content, its queueing state, and which transceivers
// have emitted it. Items are retained after emission so the envelope
// can be re-broadcast.
type OutboxItem struct {
	Sequence       uint64                 // Sequence is the manager-assigned outbound sequence
	Sender         types.UniversalAddress // Sender is the account that initiated the transfer
	Amount         types.TrimmedAmount    // Amount is the trimmed transfer amount
	RecipientChain types.ChainID          // RecipientChain is the destination chain
	CreatedAt      int64                  // CreatedAt is when the transfer was accepted
	ReleaseAt      int64                  // ReleaseAt is when a queued item may drain
	Consumed       bool                   // Consumed means outbound capacity has been deducted
	Cancelled      bool                   // Cancelled means the item was reversed before emission
	Emitted        Bitmap                 // Emitted marks transceiver indexes that emitted successfully
	Envelope       []byte                 // Envelope is the encoded transceiver envelope
}

// Queued reports whether the item still waits for capacity.
func (item *OutboxItem) Queued() bool {
	return !item.Consumed && !item.Cancelled
}

// Outbox is the pebble-backed outbox store, keyed by sequence.
type Outbox struct {
	st *storage.Store // st is the shared state store
}

// NewOutbox creates an outbox over the given store.
func NewOutbox(st *storage.Store) *Outbox {
	return &Outbox{st: st}
}

// outboxKey builds the storage key for one sequence.
func outboxKey(sequence uint64) []byte {
	key := make([]byte, 0, len(outboxKeyPrefix)+8)
	key = append(key, outboxKeyPrefix...)
	key = binary.BigEndian.AppendUint64(key, sequence)

	return key
}

// encode serializes an item for storage.
func (item *OutboxItem) encode() []byte {
	var flags uint8
	if item.Consumed {
		flags |= flagConsumed
	}
	if item.Cancelled {
		flags |= flagCancelled
	}

	buf := make([]byte, 0, 8+32+9+2+8+8+1+8+4+len(item.Envelope))
	buf = binary.BigEndian.AppendUint64(buf, item.Sequence)
	buf = append(buf, item.Sender[:]...)
	buf = binary.BigEndian.AppendUint64(buf, item.Amount.Amount)
	buf = append(buf, item.Amount.Decimals)
	buf = binary.BigEndian.AppendUint16(buf, uint16(item.RecipientChain))
	buf = binary.BigEndian.AppendUint64(buf, uint64(item.CreatedAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(item.ReleaseAt))
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint64(buf, uint64(item.Emitted))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(item.Envelope)))
	buf = append(buf, item.Envelope...)

	return buf
}

// decodeOutboxItem deserializes an item produced by encode.
func decodeOutboxItem(data []byte) (*OutboxItem, error) {
	const fixed = 8 + 32 + 9 + 2 + 8 + 8 + 1 + 8 + 4
	if len(data) < fixed {
		return nil, fmt.Errorf("outbox item too short: %d bytes", len(data))
	}

	item := &OutboxItem{}
	item.Sequence = binary.BigEndian.Uint64(data[0:8])
	copy(item.Sender[:], data[8:40])
	item.Amount.Amount = binary.BigEndian.Uint64(data[40:48])
	item.Amount.Decimals = data[48]
	item.RecipientChain = types.ChainID(binary.BigEndian.Uint16(data[49:51]))
	item.CreatedAt = int64(binary.BigEndian.Uint64(data[51:59]))
	item.ReleaseAt = int64(binary.BigEndian.Uint64(data[59:67]))

	flags := data[67]
	item.Consumed = flags&flagConsumed != 0
	item.Cancelled = flags&flagCancelled != 0

	item.Emitted = Bitmap(binary.BigEndian.Uint64(data[68:76]))

	envLen := int(binary.BigEndian.Uint32(data[76:80]))
	if len(data) != fixed+envLen {
		return nil, fmt.Errorf("outbox envelope length mismatch: have %d bytes, header says %d", len(data)-fixed, envLen)
	}
	item.Envelope = make([]byte, envLen)
	copy(item.Envelope, data[fixed:])

	return item, nil
}

// Get retrieves the item for a sequence, or nil if it was never
// assigned.
func (o *Outbox) Get(sequence uint64) (*OutboxItem, error) {
	data, err := o.st.Get(outboxKey(sequence))
	if err != nil {
		return nil, fmt.Errorf("get outbox item:\n%w", err)
	}
	if data == nil {
		return nil, nil
	}

	return decodeOutboxItem(data)
}

// Put stores the item.
func (o *Outbox) Put(item *OutboxItem) error {
	return o.st.Set(outboxKey(item.Sequence), item.encode())
}

// KV returns the storage pair for the item, for composing atomic
// batches with other stores.
func (o *Outbox) KV(item *OutboxItem) storage.KeyValue {
	return storage.KeyValue{Key: outboxKey(item.Sequence), Value: item.encode()}
}

// IterateQueued calls fn for every item still waiting for capacity,
// in sequence order.
func (o *Outbox) IterateQueued(fn func(*OutboxItem) error) error {
	return o.st.IteratePrefix(outboxKeyPrefix, func(key, value []byte) error {
		item, err := decodeOutboxItem(value)
		if err != nil {
			return err
		}
		if !item.Queued() {
			return nil
		}

		return fn(item)
	})
}
