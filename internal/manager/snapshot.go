package manager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"ntt/internal/logger"
	"ntt/internal/storage"
)

// snapshotVersion is the current snapshot format version.
const snapshotVersion = 1

// ExportState serializes every record in the manager's store into a
// zstd-compressed snapshot with a trailing blake3 checksum. The export
// is taken under the operation lock, so it is a consistent view.
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []storage.KeyValue
	err := m.st.Iterate(func(key, value []byte) error {
		// Copy key and value to avoid iterator invalidation
		k := make([]byte, len(key))
		copy(k, key)
		v := make([]byte, len(value))
		copy(v, value)

		entries = append(entries, storage.KeyValue{Key: k, Value: v})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect state:\n%w", err)
	}

	// Sort entries by key for a deterministic checksum
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Key, entries[j].Key) < 0
	})

	raw := encodeSnapshot(entries)

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	logger.Info("state exported", "entries", len(entries), "rawBytes", len(raw))

	return encoder.EncodeAll(raw, nil), nil
}

// ImportState decompresses and verifies a snapshot, applies every
// record in one batch, then reloads the cached configuration from the
// imported records. Importing into a fresh store reproduces the
// exported state exactly; importing over existing state overlays it.
func (m *Manager) ImportState(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress snapshot:\n%w", err)
	}

	entries, err := decodeSnapshot(raw)
	if err != nil {
		return err
	}

	if err := m.st.SetBatch(entries); err != nil {
		return fmt.Errorf("apply snapshot:\n%w", err)
	}

	stored, err := m.st.Get(configKey)
	if err != nil {
		return fmt.Errorf("reload config:\n%w", err)
	}
	if stored == nil {
		return fmt.Errorf("snapshot has no manager config")
	}

	cfg, err := decodeConfig(stored)
	if err != nil {
		return fmt.Errorf("decode imported config:\n%w", err)
	}
	m.cfg = cfg

	logger.Info("state imported", "entries", len(entries), "chain", cfg.Chain)

	return nil
}

// encodeSnapshot frames entries as: version u32, count u64, then per
// entry a u32 key length, key, u32 value length, value; a blake3
// checksum over everything before it closes the frame.
func encodeSnapshot(entries []storage.KeyValue) []byte {
	var buf bytes.Buffer
	var scratch [8]byte

	binary.BigEndian.PutUint32(scratch[:4], snapshotVersion)
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint64(scratch[:], uint64(len(entries)))
	buf.Write(scratch[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(e.Key)))
		buf.Write(scratch[:4])
		buf.Write(e.Key)

		binary.BigEndian.PutUint32(scratch[:4], uint32(len(e.Value)))
		buf.Write(scratch[:4])
		buf.Write(e.Value)
	}

	checksum := blake3.Sum256(buf.Bytes())
	buf.Write(checksum[:])

	return buf.Bytes()
}

// decodeSnapshot verifies the checksum and version, then unpacks the
// entries.
func decodeSnapshot(raw []byte) ([]storage.KeyValue, error) {
	if len(raw) < 4+8+32 {
		return nil, fmt.Errorf("snapshot too short: %d bytes", len(raw))
	}

	body, stored := raw[:len(raw)-32], raw[len(raw)-32:]
	computed := blake3.Sum256(body)
	if !bytes.Equal(computed[:], stored) {
		return nil, fmt.Errorf("snapshot checksum mismatch")
	}

	version := binary.BigEndian.Uint32(body[:4])
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d", version)
	}

	count := binary.BigEndian.Uint64(body[4:12])
	off := 12

	entries := make([]storage.KeyValue, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(body)-off < 4 {
			return nil, fmt.Errorf("snapshot truncated at entry %d", i)
		}
		keyLen := int(binary.BigEndian.Uint32(body[off : off+4]))
		off += 4
		if len(body)-off < keyLen {
			return nil, fmt.Errorf("snapshot truncated at entry %d key", i)
		}
		key := body[off : off+keyLen]
		off += keyLen

		if len(body)-off < 4 {
			return nil, fmt.Errorf("snapshot truncated at entry %d", i)
		}
		valueLen := int(binary.BigEndian.Uint32(body[off : off+4]))
		off += 4
		if len(body)-off < valueLen {
			return nil, fmt.Errorf("snapshot truncated at entry %d value", i)
		}
		value := body[off : off+valueLen]
		off += valueLen

		entries = append(entries, storage.KeyValue{Key: key, Value: value})
	}

	if off != len(body) {
		return nil, fmt.Errorf("snapshot has %d trailing bytes", len(body)-off)
	}

	return entries, nil
}
